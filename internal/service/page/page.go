package page

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jgivc/deploypkg/internal/entity"
)

const (
	serviceName = "page"
)

type PackageService interface {
	Package(ctx context.Context, target, version string) (*entity.Package, error)
	Versions(ctx context.Context, target string) ([]string, error)
}

type PageRenderer interface {
	Render(pkg *entity.Package, versions []string) (string, error)
}

type pageService struct {
	srv      PackageService
	renderer PageRenderer
	log      *slog.Logger
}

func NewPageService(srv PackageService, renderer PageRenderer, log *slog.Logger) *pageService {
	return &pageService{
		srv:      srv,
		renderer: renderer,
		log:      log.With(slog.String("service", serviceName)),
	}
}

// GetPage renders the release notes page of one package version.
func (p *pageService) GetPage(ctx context.Context, target, version string) (string, error) {
	pkg, err := p.srv.Package(ctx, target, version)
	if err != nil {
		return "", fmt.Errorf("cannot get package %s/%s: %w", target, version, err)
	}

	versions, err := p.srv.Versions(ctx, target)
	if err != nil {
		p.log.Warn("Cannot get versions", slog.String("target", target), slog.Any("error", err))
		versions = nil
	}

	content, err := p.renderer.Render(pkg, versions)
	if err != nil {
		p.log.Error("Cannot render page", slog.String("target", target), slog.String("version", version), slog.Any("error", err))

		return "", fmt.Errorf("cannot render page %s/%s: %w", target, version, err)
	}

	return content, nil
}
