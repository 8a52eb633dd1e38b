package mdadapter

import (
	"fmt"

	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/yuin/goldmark/ast"
)

// Resolver looks up the artifacts of the package being rendered.
type Resolver interface {
	Artifact(filename string) (entity.RawArtifact, bool)
	Artifacts() []entity.RawArtifact
}

// Resolve attaches the referenced artifacts to every link of the document.
// Unknown filenames are recorded on the node and fail the rendering.
func Resolve(doc ast.Node, r Resolver) error {
	return ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		link, ok := n.(*ArtifactLink)
		if !ok {
			return ast.WalkContinue, nil
		}

		if link.All {
			link.Artifacts = r.Artifacts()

			return ast.WalkSkipChildren, nil
		}

		a, found := r.Artifact(link.Filename)
		if !found {
			link.Err = fmt.Errorf("cannot find artifact %s", link.Filename)

			return ast.WalkSkipChildren, nil
		}
		link.Artifacts = []entity.RawArtifact{a}

		return ast.WalkSkipChildren, nil
	})
}

// ListResolver resolves against a fixed artifact list.
type ListResolver []entity.RawArtifact

func (l ListResolver) Artifact(filename string) (entity.RawArtifact, bool) {
	for _, a := range l {
		if a.Filename == filename {
			return a, true
		}
	}

	return entity.RawArtifact{}, false
}

func (l ListResolver) Artifacts() []entity.RawArtifact {
	return l
}
