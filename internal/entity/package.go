package entity

import (
	"fmt"
	"time"
)

// Package is one version of a deployment package as found by the indexer.
type Package struct {
	ID         string        `json:"id"`     // Stable hash of target and version
	Target     string        `json:"target"` // Deployment package symbolic name
	Version    string        `json:"version"`
	Title      string        `json:"title"`
	Notes      string        `json:"notes"` // Release notes rendered to HTML
	Artifacts  []RawArtifact `json:"artifacts"`
	SourcePath string        `json:"source_path"` // Folder the package was read from
	IndexedAt  time.Time     `json:"indexed_at"`
}

// Classified turns the stored metadata into artifacts, in stored order.
func (p *Package) Classified() ([]*Artifact, error) {
	artifacts := make([]*Artifact, 0, len(p.Artifacts))
	for _, raw := range p.Artifacts {
		a, err := Classify(raw)
		if err != nil {
			return nil, fmt.Errorf("cannot classify artifact of %s/%s: %w", p.Target, p.Version, err)
		}

		artifacts = append(artifacts, a)
	}

	return artifacts, nil
}

type PackageCounters struct {
	Target   string           `json:"target" yaml:"target"`
	Versions map[string]int64 `json:"versions" yaml:"versions"`
}
