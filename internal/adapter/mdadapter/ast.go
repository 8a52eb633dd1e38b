package mdadapter

import (
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/yuin/goldmark/ast"
)

var KindArtifactLink = ast.NewNodeKind("ArtifactLink")

// ArtifactLink is a [[filename]] or [[filename|Description]] reference to an
// artifact of the package, or [[ARTIFACTS]] for the whole list.
type ArtifactLink struct {
	ast.BaseInline
	Filename    string
	Description string
	All         bool

	// Filled by Resolve.
	Artifacts []entity.RawArtifact
	Err       error
}

func (n *ArtifactLink) Kind() ast.NodeKind {
	return KindArtifactLink
}

func (n *ArtifactLink) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Filename":    n.Filename,
		"Description": n.Description,
	}, nil)
}
