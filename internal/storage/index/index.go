package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/config"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/spf13/afero"
)

const (
	maxDirs = 1000
)

type FSAdapter interface {
	ToPackage(folderPath string) (*entity.Package, error)
	IsPackageDir(folderPath string) bool
}

type indexStorage struct {
	running atomic.Bool
	fs      afero.Fs
	adapter FSAdapter
	cfg     *config.IndexerConfig
	log     *slog.Logger
}

func NewIndexStorage(fs afero.Fs, adapter FSAdapter, cfg *config.IndexerConfig, log *slog.Logger) *indexStorage {
	return &indexStorage{
		fs:      fs,
		adapter: adapter,
		cfg:     cfg,
		log:     log.With(slog.String("item", "IndexStorage")),
	}
}

// Scan reads every <work_dir>/<target>/<version> folder holding a package
// description. Folders that fail to convert are logged and skipped.
func (i *indexStorage) Scan(ctx context.Context) ([]*entity.Package, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, common.ErrIndexingProcessHasAlreadyStarted
	}
	defer i.running.Store(false)

	dirs, err := i.versionDirs()
	if err != nil {
		return nil, err
	}

	if len(dirs) == 0 {
		return []*entity.Package{}, nil
	}

	in := make(chan string, len(dirs))
	out := make(chan *entity.Package, len(dirs))

	for _, dir := range dirs {
		in <- dir
	}
	close(in)

	workers := max(i.cfg.Workers, 1)

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go i.worker(ctx, n, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var packages []*entity.Package
	for pkg := range out {
		i.log.Info("Found package", slog.String("target", pkg.Target), slog.String("version", pkg.Version), slog.Int("artifacts", len(pkg.Artifacts)))
		packages = append(packages, pkg)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}

	return packages, nil
}

func (i *indexStorage) versionDirs() ([]string, error) {
	targets, err := afero.ReadDir(i.fs, i.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read work dir: %w", err)
	}

	var dirs []string
	for _, target := range targets {
		if !target.IsDir() {
			continue
		}

		targetPath := filepath.Join(i.cfg.WorkDir, target.Name())
		versions, err := afero.ReadDir(i.fs, targetPath)
		if err != nil {
			i.log.Error("Cannot read target dir", slog.String("path", targetPath), slog.Any("error", err))

			continue
		}

		for _, version := range versions {
			versionPath := filepath.Join(targetPath, version.Name())
			if !version.IsDir() || !i.adapter.IsPackageDir(versionPath) {
				continue
			}

			dirs = append(dirs, versionPath)
			if len(dirs) >= maxDirs {
				i.log.Warn("Too many package dirs, the rest is skipped", slog.Int("max", maxDirs))

				return dirs, nil
			}
		}
	}

	return dirs, nil
}

func (i *indexStorage) worker(ctx context.Context, n int, in chan string, out chan *entity.Package, wg *sync.WaitGroup) {
	defer wg.Done()

	log := i.log.With(slog.Int("worker_id", n))
	log.Debug("Started")

	for folderPath := range in {
		pkg, err := i.adapter.ToPackage(folderPath)
		if err != nil {
			log.Error("Cannot read package", slog.String("folder_path", folderPath), slog.Any("error", err))

			continue
		}

		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		case out <- pkg:
		}
	}

	log.Debug("Done")
}
