package mdadapter

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type ArtifactsExtension struct{}

func NewArtifactsExtension() goldmark.Extender {
	return &ArtifactsExtension{}
}

func (e *ArtifactsExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(NewArtifactLinkParser(), 199),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(NewArtifactLinkRenderer(), 199),
		),
	)
}
