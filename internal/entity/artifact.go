package entity

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/manifest"
)

const (
	DefaultVersion = "0.0.0"
	SizeUnknown    = -1
)

var filenameRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Kind classifies an artifact inside a deployment package.
type Kind int

const (
	KindBundle Kind = iota
	KindProcessor
	KindResource
)

func (k Kind) String() string {
	return [...]string{"Bundle", "ResourceProcessor", "Resource"}[k]
}

// RawArtifact is the metadata a provider supplies for one artifact.
type RawArtifact struct {
	URL          string `yaml:"url" json:"url"`
	Filename     string `yaml:"filename,omitempty" json:"filename,omitempty"`
	SymbolicName string `yaml:"symbolic_name,omitempty" json:"symbolic_name,omitempty"`
	Version      string `yaml:"version,omitempty" json:"version,omitempty"`
	Customizer   bool   `yaml:"customizer,omitempty" json:"customizer,omitempty"`
	ProcessorPID string `yaml:"processor_pid,omitempty" json:"processor_pid,omitempty"`
	Size         *int64 `yaml:"size,omitempty" json:"size,omitempty"`
	HasChanged   bool   `yaml:"-" json:"has_changed"`
}

// Artifact is one classified entry of a deployment package. Everything but
// HasChanged is fixed at construction.
type Artifact struct {
	filename     string
	url          string
	size         int64
	symbolicName string
	version      string
	customizer   bool
	processorPID string
	kind         Kind

	HasChanged bool
}

// Classify validates provider metadata and builds an Artifact from it.
func Classify(raw RawArtifact) (*Artifact, error) {
	location := strings.TrimSpace(raw.URL)
	if location == "" {
		return nil, &common.ConstructionError{Location: raw.Filename, Reason: "source location is empty"}
	}

	filename := strings.TrimSpace(raw.Filename)
	if filename == "" {
		filename = filenameFromLocation(location)
	}
	if !filenameRegexp.MatchString(filename) || strings.Trim(filename, ".") == "" {
		return nil, &common.ConstructionError{
			Location: location,
			Reason:   fmt.Sprintf("filename %q is not a valid archive entry name", filename),
		}
	}

	a := &Artifact{
		filename:     filename,
		url:          location,
		size:         SizeUnknown,
		symbolicName: strings.TrimSpace(raw.SymbolicName),
		processorPID: strings.TrimSpace(raw.ProcessorPID),
		customizer:   raw.Customizer,
		HasChanged:   raw.HasChanged,
	}
	if raw.Size != nil && *raw.Size >= 0 {
		a.size = *raw.Size
	}

	switch {
	case a.symbolicName == "" && a.processorPID == "":
		return nil, &common.ConstructionError{
			Location: location,
			Reason:   "artifact is neither a bundle nor bound to a resource processor",
		}
	case a.symbolicName == "":
		a.kind = KindResource
		a.customizer = false
	case a.customizer:
		if a.processorPID == "" {
			return nil, &common.ConstructionError{
				Location: location,
				Reason:   "resource processor bundle without processor pid",
			}
		}
		a.kind = KindProcessor
	default:
		a.kind = KindBundle
	}

	if a.IsBundle() {
		a.version = strings.TrimSpace(raw.Version)
		if a.version == "" {
			a.version = DefaultVersion
		}
	}

	for _, field := range []struct{ name, value string }{
		{"symbolic name", a.symbolicName},
		{"version", a.version},
		{"processor pid", a.processorPID},
	} {
		if HasControl(field.value) {
			return nil, &common.ConstructionError{
				Location: location,
				Reason:   field.name + " contains control characters",
			}
		}
	}

	return a, nil
}

// HasControl reports whether s holds characters that would break a manifest
// header line.
func HasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}

// filenameFromLocation returns the last path segment of a URL or path.
func filenameFromLocation(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")

	return path.Base(p)
}

func (a *Artifact) Filename() string     { return a.filename }
func (a *Artifact) URL() string          { return a.url }
func (a *Artifact) Size() int64          { return a.size }
func (a *Artifact) SymbolicName() string { return a.symbolicName }
func (a *Artifact) Version() string      { return a.version }
func (a *Artifact) ProcessorPID() string { return a.processorPID }
func (a *Artifact) Kind() Kind           { return a.kind }

func (a *Artifact) IsBundle() bool {
	return a.kind == KindBundle || a.kind == KindProcessor
}

func (a *Artifact) IsCustomizer() bool {
	return a.kind == KindProcessor
}

func (a *Artifact) SetChanged(changed bool) {
	a.HasChanged = changed
}

// ManifestAttributes returns the per-entry manifest headers of the artifact.
func (a *Artifact) ManifestAttributes(fixPackage bool) manifest.Attributes {
	var attrs manifest.Attributes

	if a.IsBundle() {
		attrs.Set(manifest.HeaderBundleSymbolicName, a.symbolicName)
		attrs.Set(manifest.HeaderBundleVersion, a.version)
		if a.IsCustomizer() {
			attrs.Set(manifest.HeaderCustomizer, "true")
		}
	} else {
		attrs.Set(manifest.HeaderResourceProcessor, a.processorPID)
	}

	if fixPackage && !a.HasChanged {
		attrs.Set(manifest.HeaderMissing, "true")
	}

	return attrs
}

// Equal reports whether two artifacts denote the same content: bundles by
// symbolic name and version, everything else by source location.
func (a *Artifact) Equal(other *Artifact) bool {
	if a == nil || other == nil {
		return a == other
	}

	if a.IsBundle() != other.IsBundle() {
		return false
	}

	if a.IsBundle() {
		return a.symbolicName == other.symbolicName && a.version == other.version
	}

	return a.url == other.url
}

// Clone copies the artifact so HasChanged can be set without touching a
// shared snapshot.
func (a *Artifact) Clone() *Artifact {
	c := *a

	return &c
}

// Raw converts the artifact back to provider metadata.
func (a *Artifact) Raw() RawArtifact {
	raw := RawArtifact{
		URL:          a.url,
		Filename:     a.filename,
		SymbolicName: a.symbolicName,
		Version:      a.version,
		Customizer:   a.customizer,
		ProcessorPID: a.processorPID,
		HasChanged:   a.HasChanged,
	}
	if a.size >= 0 {
		size := a.size
		raw.Size = &size
	}

	return raw
}

func contains(list []*Artifact, a *Artifact) bool {
	for _, item := range list {
		if item.Equal(a) {
			return true
		}
	}

	return false
}

// MarkChanges builds the artifact list of a fix package from version "from"
// to version "to". Every artifact of "to" is kept, flagged as changed unless
// an equal artifact exists in "from". Artifacts only present in "from" are
// dropped.
func MarkChanges(from, to []*Artifact) []*Artifact {
	result := make([]*Artifact, 0, len(to))
	for _, a := range to {
		c := a.Clone()
		c.SetChanged(!contains(from, a))
		result = append(result, c)
	}

	return result
}

// MarkAllChanged copies the list with every artifact flagged as changed, as
// required for a full package.
func MarkAllChanged(list []*Artifact) []*Artifact {
	result := make([]*Artifact, 0, len(list))
	for _, a := range list {
		c := a.Clone()
		c.SetChanged(true)
		result = append(result, c)
	}

	return result
}

// Dedup drops every artifact equal to one seen earlier in the list.
func Dedup(list []*Artifact) []*Artifact {
	result := make([]*Artifact, 0, len(list))
	for _, a := range list {
		if !contains(result, a) {
			result = append(result, a)
		}
	}

	return result
}
