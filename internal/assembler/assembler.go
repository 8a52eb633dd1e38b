package assembler

import (
	"fmt"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/manifest"
)

// Group is one of the ordered artifact groups of a deployment package.
type Group int

const (
	GroupBundle Group = iota
	GroupProcessor
	GroupArtifact

	groupCount = 3
)

func (g Group) String() string {
	return [...]string{"Bundles", "Processors", "Artifacts"}[g]
}

// GroupOf returns the group an artifact belongs to by its classification.
func GroupOf(a *entity.Artifact) Group {
	switch a.Kind() {
	case entity.KindProcessor:
		return GroupProcessor
	case entity.KindResource:
		return GroupArtifact
	}

	return GroupBundle
}

/*
Assembler collects the artifacts of one deployment package and orders them
bundles first, then resource processors, then plain artifacts, so that every
processor is installed before the resources it handles.
*/
type Assembler struct {
	symbolicName string
	version      string
	fixFrom      string
	groups       [groupCount][]*entity.Artifact
}

// New creates an assembler for a full package, or for a fix package when
// fixFrom is not empty.
func New(symbolicName, version, fixFrom string) *Assembler {
	return &Assembler{
		symbolicName: symbolicName,
		version:      version,
		fixFrom:      fixFrom,
	}
}

func (a *Assembler) IsFixPackage() bool {
	return a.fixFrom != ""
}

// Append adds the artifact at the end of the group.
func (a *Assembler) Append(group Group, artifact *entity.Artifact) {
	a.groups[group] = append(a.groups[group], artifact)
}

// AppendAll routes every artifact to its group, dropping duplicates.
func (a *Assembler) AppendAll(artifacts []*entity.Artifact) {
	for _, artifact := range entity.Dedup(artifacts) {
		if a.contains(artifact) {
			continue
		}

		a.Append(GroupOf(artifact), artifact)
	}
}

func (a *Assembler) contains(artifact *entity.Artifact) bool {
	for _, group := range a.groups {
		for _, item := range group {
			if item.Equal(artifact) {
				return true
			}
		}
	}

	return false
}

// Validate checks the package headers, that entry names are unique and that
// every plain artifact has its resource processor in the package. The first
// offending artifact is reported.
func (a *Assembler) Validate() error {
	for _, value := range []string{a.symbolicName, a.version, a.fixFrom} {
		if entity.HasControl(value) {
			return &common.ConstructionError{Location: a.symbolicName, Reason: "package header contains control characters"}
		}
	}

	seen := make(map[string]struct{})
	for _, group := range a.groups {
		for _, artifact := range group {
			if _, ok := seen[artifact.Filename()]; ok {
				return &common.DuplicateEntryError{Filename: artifact.Filename(), Location: artifact.URL()}
			}
			seen[artifact.Filename()] = struct{}{}
		}
	}

	for _, artifact := range a.groups[GroupArtifact] {
		if !a.hasProcessor(artifact.ProcessorPID()) {
			return &common.MissingProcessorError{
				PID:      artifact.ProcessorPID(),
				Location: artifact.URL(),
			}
		}
	}

	return nil
}

func (a *Assembler) hasProcessor(pid string) bool {
	for _, processor := range a.groups[GroupProcessor] {
		if processor.ProcessorPID() == pid {
			return true
		}
	}

	return false
}

// Build returns the package manifest and its artifacts in archive order. The
// returned slice is a new snapshot on every call.
func (a *Assembler) Build() (*manifest.Manifest, []*entity.Artifact) {
	var count int
	for _, group := range a.groups {
		count += len(group)
	}

	artifacts := make([]*entity.Artifact, 0, count)
	for _, group := range a.groups {
		artifacts = append(artifacts, group...)
	}

	m := manifest.New(a.symbolicName, a.version, a.fixFrom)
	for _, artifact := range artifacts {
		m.AddEntry(artifact.Filename(), artifact.ManifestAttributes(a.IsFixPackage()))
	}

	return m, artifacts
}

// Assemble validates the artifacts and builds the package in one step.
func Assemble(symbolicName, version, fixFrom string, artifacts []*entity.Artifact) (*manifest.Manifest, []*entity.Artifact, error) {
	a := New(symbolicName, version, fixFrom)
	a.AppendAll(artifacts)

	if err := a.Validate(); err != nil {
		return nil, nil, fmt.Errorf("cannot assemble package %s %s: %w", symbolicName, version, err)
	}

	m, ordered := a.Build()

	return m, ordered, nil
}
