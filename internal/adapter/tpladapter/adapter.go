package tpladapter

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"

	_ "embed"

	"github.com/jgivc/deploypkg/internal/entity"
)

const (
	templateNamePage = "PAGE"

	funcNameDownload = "download"
	funcNameFix      = "fix"
	funcNameSize     = "size"
)

//go:embed template.html
var defaultTemplate string

// Page is the data of a release notes page.
type Page struct {
	Package  *entity.Package
	Notes    template.HTML
	Versions []string // Earlier versions a fix package can update from
}

type tplAdapter struct {
	tpl     *template.Template
	siteURL string
}

// NewTplAdapter parses the page template. The embedded one is used when
// templateFileName is empty.
func NewTplAdapter(siteURL, templateFileName string) (*tplAdapter, error) {
	a := &tplAdapter{
		siteURL: strings.TrimRight(siteURL, "/"),
	}

	tpl := template.New("").Funcs(template.FuncMap{
		funcNameDownload: a.downloadURL,
		funcNameFix:      a.fixURL,
		funcNameSize:     formatSize,
	})

	src := defaultTemplate
	if templateFileName != "" {
		data, err := os.ReadFile(templateFileName)
		if err != nil {
			return nil, fmt.Errorf("cannot read template: %w", err)
		}

		src = string(data)
	}

	if _, err := tpl.Parse(src); err != nil {
		return nil, fmt.Errorf("cannot parse template: %w", err)
	}

	if tpl.Lookup(templateNamePage) == nil {
		return nil, fmt.Errorf("template %s must be defined", templateNamePage)
	}

	a.tpl = tpl

	return a, nil
}

// Render builds the notes page of pkg. versions must be sorted ascending. The
// notes are trusted: they were rendered from markdown with raw HTML disabled.
func (a *tplAdapter) Render(pkg *entity.Package, versions []string) (string, error) {
	others := make([]string, 0, len(versions))
	for _, v := range versions {
		if v == pkg.Version {
			break
		}
		others = append(others, v)
	}

	page := &Page{
		Package:  pkg,
		Notes:    template.HTML(pkg.Notes),
		Versions: others,
	}

	buf := bytes.Buffer{}
	if err := a.tpl.ExecuteTemplate(&buf, templateNamePage, page); err != nil {
		return "", fmt.Errorf("cannot execute template %s: %w", templateNamePage, err)
	}

	return buf.String(), nil
}

func (a *tplAdapter) downloadURL(target, version string) string {
	return fmt.Sprintf("%s/deployment/%s/versions/%s/", a.siteURL, url.PathEscape(target), url.PathEscape(version))
}

func (a *tplAdapter) fixURL(target, from, version string) string {
	return a.downloadURL(target, version) + "?current=" + url.QueryEscape(from)
}

func formatSize(size *int64) string {
	if size == nil {
		return "-"
	}

	const unit = 1024

	n := *size
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
