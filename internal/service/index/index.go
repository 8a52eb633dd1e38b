package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
)

type PackageStorage interface {
	Scan(ctx context.Context) ([]*entity.Package, error)
}

type PackageRepository interface {
	Save(ctx context.Context, packages []*entity.Package) error
}

type IndexerService struct {
	store PackageStorage
	repo  PackageRepository
	log   *slog.Logger
}

func NewIndexService(store PackageStorage, repo PackageRepository, log *slog.Logger) *IndexerService {
	return &IndexerService{
		store: store,
		repo:  repo,
		log:   log.With(slog.String("item", "IndexService")),
	}
}

// Index rescans the work dir and replaces the published package set.
func (i *IndexerService) Index(ctx context.Context) ([]*entity.Package, error) {
	packages, err := i.store.Scan(ctx)
	if err != nil {
		i.log.Error("Cannot scan", slog.Any("error", err))

		return nil, fmt.Errorf("cannot scan package store: %w", err)
	}

	if len(packages) < 1 {
		i.log.Error("Cannot find packages")

		return nil, common.ErrNoPackagesFoundError
	}

	i.log.Info("Scan package dirs", slog.Int("count", len(packages)))

	if err := i.repo.Save(ctx, packages); err != nil {
		i.log.Error("Cannot save scan content", slog.Any("error", err))

		return nil, fmt.Errorf("cannot save scan content: %w", err)
	}

	return packages, nil
}
