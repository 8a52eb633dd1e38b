package fsadapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Source serves artifact bytes from files under a root folder.
type Source struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

func NewSource(root string, log *slog.Logger) *Source {
	return NewSourceWithFS(afero.NewOsFs(), root, log)
}

func NewSourceWithFS(fs afero.Fs, root string, log *slog.Logger) *Source {
	return &Source{
		fs:   fs,
		root: filepath.Clean(root),
		log:  log.With(slog.String("item", "FSSource")),
	}
}

// Open opens a local location. Relative locations are taken from the root;
// nothing outside the root can be opened.
func (s *Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(location, "file://")
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("location %s is outside of %s", location, s.root)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if stat.IsDir() {
		_ = f.Close()

		return nil, fmt.Errorf("%s is a directory", path)
	}

	s.log.Debug("Open artifact", slog.String("path", path), slog.Int64("size", stat.Size()))

	return f, nil
}
