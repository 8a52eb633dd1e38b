package mdadapter

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var (
	startSeq = []byte{'[', '['}
	endSeq   = []byte{']', ']'}
	descSeq  = []byte{'|'}
	allSeq   = []byte("ARTIFACTS")
)

/*
ArtifactLinkParser reads wiki style links:

	[[api-1.1.0.jar]]
	[[api-1.1.0.jar|Public API]]
	[[ARTIFACTS]]
*/
type ArtifactLinkParser struct{}

func NewArtifactLinkParser() parser.InlineParser {
	return &ArtifactLinkParser{}
}

func (s *ArtifactLinkParser) Trigger() []byte {
	return startSeq
}

func (s *ArtifactLinkParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, startSeq) {
		return nil
	}

	end := bytes.Index(line, endSeq)
	if end < 0 {
		return nil
	}

	body := bytes.TrimSpace(line[len(startSeq):end])
	if len(body) == 0 {
		return nil
	}

	block.Advance(end + len(endSeq))

	if bytes.Equal(body, allSeq) {
		return &ArtifactLink{All: true}
	}

	name, desc, _ := bytes.Cut(body, descSeq)

	return &ArtifactLink{
		Filename:    string(bytes.TrimSpace(name)),
		Description: string(bytes.TrimSpace(desc)),
	}
}
