package mdadapter

import (
	"fmt"

	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type ArtifactLinkRenderer struct{}

func NewArtifactLinkRenderer() renderer.NodeRenderer {
	return &ArtifactLinkRenderer{}
}

func (r *ArtifactLinkRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindArtifactLink, r.renderArtifactLink)
}

func (r *ArtifactLinkRenderer) renderArtifactLink(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	link, ok := n.(*ArtifactLink)
	if !ok {
		return ast.WalkStop, fmt.Errorf("unexpected node %T, expected *ArtifactLink", n)
	}

	if link.Err != nil {
		return ast.WalkStop, fmt.Errorf("cannot render artifact link: %w", link.Err)
	}

	if link.All {
		_, _ = w.WriteString(`<ul class="artifacts">`)
		for _, a := range link.Artifacts {
			_, _ = w.WriteString("<li>")
			writeArtifact(w, a, "")
			_, _ = w.WriteString("</li>")
		}
		_, _ = w.WriteString("</ul>")

		return ast.WalkContinue, nil
	}

	if len(link.Artifacts) != 1 {
		return ast.WalkStop, fmt.Errorf("artifact link %s is not resolved", link.Filename)
	}

	writeArtifact(w, link.Artifacts[0], link.Description)

	return ast.WalkContinue, nil
}

func writeArtifact(w util.BufWriter, a entity.RawArtifact, description string) {
	label := description
	if label == "" {
		label = a.Filename
		if a.SymbolicName != "" {
			label = a.SymbolicName + " " + a.Version
		}
	}

	_, _ = w.WriteString(`<span class="artifact" data-filename="`)
	_, _ = w.Write(util.EscapeHTML([]byte(a.Filename)))
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML([]byte(label)))
	_, _ = w.WriteString("</span>")
}
