package fsadapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgivc/deploypkg/internal/adapter/mdadapter"
	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/config"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/util"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/frontmatter"
)

const (
	maxArtifacts = 500
)

type Frontmatter struct {
	Title     string               `yaml:"title"`
	Artifacts []entity.RawArtifact `yaml:"artifacts"`
}

type fsAdapter struct {
	fs  afero.Fs
	cfg *config.FSAdapterConfig
	md  goldmark.Markdown

	log *slog.Logger
}

func NewFSAdapter(cfg *config.FSAdapterConfig, log *slog.Logger) (*fsAdapter, error) {
	return NewFSAdapterWithFS(afero.NewOsFs(), cfg, log)
}

func NewFSAdapterWithFS(fs afero.Fs, cfg *config.FSAdapterConfig, log *slog.Logger) (*fsAdapter, error) {
	if cfg.DescFileName == "" {
		return nil, fmt.Errorf("description file name is not set")
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
			mdadapter.NewArtifactsExtension(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &fsAdapter{
		fs:  fs,
		cfg: cfg,
		md:  md,
		log: log.With(slog.String("item", "FSAdapter")),
	}, nil
}

/*
ToPackage reads <work_dir>/<target>/<version>/<desc_filename>. The front matter
lists the artifacts, the markdown body becomes the release notes. Relative
artifact locations point into the version folder; their size is taken from
the file when not declared. Any artifact that cannot be classified rejects
the whole version.
*/
func (a *fsAdapter) ToPackage(folderPath string) (*entity.Package, error) {
	if strings.Contains(folderPath, "..") {
		return nil, fmt.Errorf("invalid folder path")
	}

	version := filepath.Base(folderPath)
	target := filepath.Base(filepath.Dir(folderPath))

	src, err := afero.ReadFile(a.fs, filepath.Join(folderPath, a.cfg.DescFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot read package description: %w", err)
	}

	pc := parser.NewContext()
	doc := a.md.Parser().Parse(text.NewReader(src), parser.WithContext(pc))

	data := frontmatter.Get(pc)
	if data == nil {
		return nil, fmt.Errorf("package description has no front matter")
	}

	var fm Frontmatter
	if err := data.Decode(&fm); err != nil {
		return nil, fmt.Errorf("cannot decode front matter: %w", err)
	}

	if len(fm.Artifacts) > maxArtifacts {
		return nil, fmt.Errorf("too many artifacts: %d", len(fm.Artifacts))
	}

	artifacts := make([]entity.RawArtifact, 0, len(fm.Artifacts))
	for _, raw := range fm.Artifacts {
		raw, err := a.resolveArtifact(folderPath, raw)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve artifact %q: %w", raw.URL, err)
		}

		artifacts = append(artifacts, raw)
	}

	if err := mdadapter.Resolve(doc, mdadapter.ListResolver(artifacts)); err != nil {
		return nil, fmt.Errorf("cannot resolve release notes: %w", err)
	}

	var buf bytes.Buffer
	if err := a.md.Renderer().Render(&buf, src, doc); err != nil {
		return nil, fmt.Errorf("cannot render release notes: %w", err)
	}

	title := fm.Title
	if title == "" {
		title = target + " " + version
	}

	return &entity.Package{
		ID:         util.PackageID(target, version),
		Target:     target,
		Version:    version,
		Title:      title,
		Notes:      buf.String(),
		Artifacts:  artifacts,
		SourcePath: folderPath,
		IndexedAt:  time.Now(),
	}, nil
}

// resolveArtifact pins local locations to the folder and validates the result.
func (a *fsAdapter) resolveArtifact(folderPath string, raw entity.RawArtifact) (entity.RawArtifact, error) {
	if isLocal(raw.URL) {
		location := strings.TrimPrefix(raw.URL, "file://")
		if !filepath.IsAbs(location) {
			location = filepath.Join(folderPath, location)
		}
		raw.URL = location

		if raw.Size == nil {
			stat, err := a.fs.Stat(location)
			if err != nil {
				return raw, fmt.Errorf("cannot stat artifact: %w", err)
			}
			if stat.IsDir() {
				return raw, fmt.Errorf("artifact is a directory")
			}

			size := stat.Size()
			raw.Size = &size
		}
	}

	artifact, err := entity.Classify(raw)
	if err != nil {
		return raw, err
	}

	// Keep the derived filename so links in the notes can match it.
	raw.Filename = artifact.Filename()

	return raw, nil
}

func isLocal(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return true
	}

	return u.Scheme == "" || u.Scheme == "file"
}

// IsPackageDir reports whether the folder holds a package description.
func (a *fsAdapter) IsPackageDir(folderPath string) bool {
	return a.fileExists(filepath.Join(folderPath, a.cfg.DescFileName))
}

func (a *fsAdapter) fileExists(path string) bool {
	if path == "" {
		return false
	}

	_, err := a.fs.Stat(path)
	if err == nil {
		return true
	}

	if !os.IsNotExist(err) {
		a.log.Warn("Cannot stat file", slog.String("path", path), slog.Any("error", err))
	}

	return false
}

// Package reads one package straight from the work directory. Used by the
// offline build where no index is available.
func (a *fsAdapter) Package(_ context.Context, target, version string) (*entity.Package, error) {
	targetPath := filepath.Join(a.cfg.WorkDir, target)
	if !a.isDir(targetPath) {
		return nil, common.ErrPackageNotFoundError
	}

	folderPath := filepath.Join(targetPath, version)
	if !a.IsPackageDir(folderPath) {
		return nil, common.ErrVersionNotFoundError
	}

	return a.ToPackage(folderPath)
}

// Versions lists the version folders of a target holding a description.
func (a *fsAdapter) Versions(_ context.Context, target string) ([]string, error) {
	if strings.Contains(target, "..") {
		return nil, fmt.Errorf("invalid target")
	}

	entries, err := afero.ReadDir(a.fs, filepath.Join(a.cfg.WorkDir, target))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrPackageNotFoundError
		}

		return nil, fmt.Errorf("cannot read target folder: %w", err)
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() && a.IsPackageDir(filepath.Join(a.cfg.WorkDir, target, entry.Name())) {
			versions = append(versions, entry.Name())
		}
	}

	if len(versions) < 1 {
		return nil, common.ErrPackageNotFoundError
	}

	return versions, nil
}

func (a *fsAdapter) isDir(path string) bool {
	stat, err := a.fs.Stat(path)

	return err == nil && stat.IsDir()
}
