package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

const (
	HeaderManifestVersion = "Manifest-Version"
	HeaderName            = "Name"

	HeaderSymbolicName = "DeploymentPackage-SymbolicName"
	HeaderVersion      = "DeploymentPackage-Version"
	HeaderFixPack      = "DeploymentPackage-FixPack"

	HeaderBundleSymbolicName = "Bundle-SymbolicName"
	HeaderBundleVersion      = "Bundle-Version"
	HeaderCustomizer         = "DeploymentPackage-Customizer"
	HeaderResourceProcessor  = "Resource-Processor"
	HeaderMissing            = "DeploymentPackage-Missing"

	ManifestVersion = "1.0"
	// Path is the archive entry the manifest is stored under.
	Path = "META-INF/MANIFEST.MF"

	maxLineLength = 72
	newline       = "\r\n"
)

// Attribute is one manifest header.
type Attribute struct {
	Name  string
	Value string
}

// Attributes keeps headers in insertion order so that the written manifest is
// deterministic.
type Attributes []Attribute

func (a Attributes) Get(name string) string {
	for _, attr := range a {
		if strings.EqualFold(attr.Name, name) {
			return attr.Value
		}
	}

	return ""
}

// Set replaces the value of an existing header or appends a new one.
func (a *Attributes) Set(name, value string) {
	for i := range *a {
		if strings.EqualFold((*a)[i].Name, name) {
			(*a)[i].Value = value

			return
		}
	}

	*a = append(*a, Attribute{Name: name, Value: value})
}

// Entry is a per-file manifest section.
type Entry struct {
	Name       string
	Attributes Attributes
}

type Manifest struct {
	Main    Attributes
	Entries []Entry
}

// New creates a manifest carrying the deployment package global headers.
// A non-empty fixFrom marks the manifest as a fix package for [fixFrom,version).
func New(symbolicName, version, fixFrom string) *Manifest {
	m := &Manifest{}
	m.Main.Set(HeaderManifestVersion, ManifestVersion)
	m.Main.Set(HeaderSymbolicName, symbolicName)
	m.Main.Set(HeaderVersion, version)
	if fixFrom != "" {
		m.Main.Set(HeaderFixPack, FixPackRange(fixFrom, version))
	}

	return m
}

func FixPackRange(from, to string) string {
	return "[" + from + "," + to + ")"
}

func (m *Manifest) IsFixPackage() bool {
	return m.Main.Get(HeaderFixPack) != ""
}

func (m *Manifest) AddEntry(name string, attrs Attributes) {
	m.Entries = append(m.Entries, Entry{Name: name, Attributes: attrs})
}

func (m *Manifest) Entry(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}

// WriteTo writes the manifest in JAR manifest syntax.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countWriter{w: bw}

	for _, attr := range m.Main {
		if err := writeHeader(cw, attr.Name, attr.Value); err != nil {
			return cw.n, err
		}
	}
	if _, err := io.WriteString(cw, newline); err != nil {
		return cw.n, err
	}

	for _, e := range m.Entries {
		if err := writeHeader(cw, HeaderName, e.Name); err != nil {
			return cw.n, err
		}
		for _, attr := range e.Attributes {
			if err := writeHeader(cw, attr.Name, attr.Value); err != nil {
				return cw.n, err
			}
		}
		if _, err := io.WriteString(cw, newline); err != nil {
			return cw.n, err
		}
	}

	return cw.n, bw.Flush()
}

func (m *Manifest) Bytes() []byte {
	var buf bytes.Buffer
	// bytes.Buffer never fails
	_, _ = m.WriteTo(&buf)

	return buf.Bytes()
}

// writeHeader splits lines longer than 72 bytes; continuation lines start with a space.
func writeHeader(w io.Writer, name, value string) error {
	line := name + ": " + value
	for len(line) > maxLineLength {
		if _, err := io.WriteString(w, line[:maxLineLength]+newline); err != nil {
			return err
		}
		line = " " + line[maxLineLength:]
	}

	_, err := io.WriteString(w, line+newline)

	return err
}

// Parse reads a manifest written in JAR manifest syntax.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)

	var (
		section Attributes
		last    = -1
		main    = true
		lineNo  int
	)

	flush := func() error {
		if main {
			m.Main = section
			main = false
		} else if len(section) > 0 {
			name := section.Get(HeaderName)
			if name == "" {
				return fmt.Errorf("manifest section without %s header", HeaderName)
			}

			attrs := make(Attributes, 0, len(section)-1)
			for _, attr := range section {
				if attr.Name != HeaderName {
					attrs = append(attrs, attr)
				}
			}
			m.AddEntry(name, attrs)
		}
		section = nil
		last = -1

		return nil
	}

	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")

		switch {
		case line == "":
			if main || len(section) > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		case line[0] == ' ':
			if last < 0 {
				return nil, fmt.Errorf("line %d: continuation without header", lineNo)
			}
			section[last].Value += line[1:]
		default:
			name, value, ok := strings.Cut(line, ": ")
			if !ok || name == "" {
				return nil, fmt.Errorf("line %d: malformed header %q", lineNo, line)
			}
			section = append(section, Attribute{Name: name, Value: value})
			last = len(section) - 1
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cannot read manifest: %w", err)
	}

	if main || len(section) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
