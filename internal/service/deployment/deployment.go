package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/Masterminds/semver"
	"github.com/jgivc/deploypkg/internal/assembler"
	"github.com/jgivc/deploypkg/internal/encoder"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/manifest"
	"golang.org/x/sync/singleflight"
)

type PackageRepository interface {
	Versions(ctx context.Context, target string) ([]string, error)
	Package(ctx context.Context, target, version string) (*entity.Package, error)
}

type CounterRepository interface {
	IncDownloadCounter(ctx context.Context, target, version string) (int64, error)
	GetDownloadCounters(ctx context.Context, target string) (*entity.PackageCounters, error)
}

type EncoderPool interface {
	Get(ctx context.Context, key string, m *manifest.Manifest, artifacts []*entity.Artifact) (*encoder.Lease, encoder.Outcome)
}

type Service struct {
	packages PackageRepository
	counters CounterRepository
	pool     EncoderPool
	sf       singleflight.Group
	log      *slog.Logger
}

func NewDeploymentService(packages PackageRepository, counters CounterRepository, pool EncoderPool, log *slog.Logger) *Service {
	return &Service{
		packages: packages,
		counters: counters,
		pool:     pool,
		log:      log.With(slog.String("item", "DeploymentService")),
	}
}

// Versions returns the published versions of a target in ascending semantic
// version order. Versions that are not semantic versions follow, sorted as
// strings.
func (s *Service) Versions(ctx context.Context, target string) ([]string, error) {
	versions, err := s.packages.Versions(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("cannot get %s versions: %w", target, err)
	}

	return SortVersions(versions), nil
}

func SortVersions(versions []string) []string {
	type parsed struct {
		raw string
		ver *semver.Version
	}

	list := make([]parsed, 0, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			sv = nil
		}
		list = append(list, parsed{raw: v, ver: sv})
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.ver != nil && b.ver != nil:
			if a.ver.Equal(b.ver) {
				return a.raw < b.raw
			}

			return a.ver.LessThan(b.ver)
		case a.ver != nil:
			return true
		case b.ver != nil:
			return false
		}

		return a.raw < b.raw
	})

	sorted := make([]string, 0, len(list))
	for _, p := range list {
		sorted = append(sorted, p.raw)
	}

	return sorted
}

// loadPackage shares one repository read between concurrent callers of the
// same package. The shared read ignores the cancellation of whichever caller
// started it; each caller still stops waiting when its own context is done.
func (s *Service) loadPackage(ctx context.Context, target, version string) (*entity.Package, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.sf.DoChan(target+"@"+version, func() (any, error) {
		return s.packages.Package(shared, target, version)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		if res.Shared {
			s.log.Debug("Shared package load", slog.String("target", target), slog.String("version", version))
		}

		return res.Val.(*entity.Package), nil
	}
}

func (s *Service) classified(ctx context.Context, target, version string) ([]*entity.Artifact, error) {
	pkg, err := s.loadPackage(ctx, target, version)
	if err != nil {
		return nil, fmt.Errorf("cannot load package %s/%s: %w", target, version, err)
	}

	return pkg.Classified()
}

// Artifacts returns the artifacts of a full package, all flagged as changed.
func (s *Service) Artifacts(ctx context.Context, target, version string) ([]*entity.Artifact, error) {
	artifacts, err := s.classified(ctx, target, version)
	if err != nil {
		return nil, err
	}

	return entity.MarkAllChanged(artifacts), nil
}

// FixArtifacts returns the artifacts of a fix package from version "from" to
// version "to": unchanged ones are kept but not flagged.
func (s *Service) FixArtifacts(ctx context.Context, target, from, to string) ([]*entity.Artifact, error) {
	fromArtifacts, err := s.classified(ctx, target, from)
	if err != nil {
		return nil, err
	}

	toArtifacts, err := s.classified(ctx, target, to)
	if err != nil {
		return nil, err
	}

	return entity.MarkChanges(fromArtifacts, toArtifacts), nil
}

/*
Open assembles the package of a target and returns its archive stream. A fix
package is built when from is set and differs from version. Validation runs
before any byte is produced; the returned stream owns a pooled encoder until
it is closed.
*/
func (s *Service) Open(ctx context.Context, key, target, version, from string) (io.ReadCloser, error) {
	var (
		artifacts []*entity.Artifact
		fixFrom   string
		err       error
	)

	if from != "" && from != version {
		fixFrom = from
		artifacts, err = s.FixArtifacts(ctx, target, from, version)
	} else {
		artifacts, err = s.Artifacts(ctx, target, version)
	}
	if err != nil {
		return nil, err
	}

	m, ordered, err := assembler.Assemble(target, version, fixFrom, artifacts)
	if err != nil {
		s.log.Warn("Cannot assemble package", slog.String("target", target), slog.String("version", version), slog.Any("error", err))

		return nil, err
	}

	lease, outcome := s.pool.Get(ctx, key, m, ordered)
	poolCounter.WithLabelValues(string(outcome)).Inc()

	packageType := packageTypeFull
	if fixFrom != "" {
		packageType = packageTypeFix
	}

	s.log.Info("Open package stream",
		slog.String("key", key),
		slog.String("target", target),
		slog.String("version", version),
		slog.String("from", fixFrom),
		slog.Int("artifacts", len(ordered)),
		slog.String("encoder", string(outcome)),
	)

	return &Stream{
		ctx:         ctx,
		lease:       lease,
		srv:         s,
		target:      target,
		version:     version,
		packageType: packageType,
		started:     time.Now(),
	}, nil
}

// Package returns the stored package metadata with its rendered notes.
func (s *Service) Package(ctx context.Context, target, version string) (*entity.Package, error) {
	pkg, err := s.loadPackage(ctx, target, version)
	if err != nil {
		s.log.Error("Cannot get package", slog.String("target", target), slog.String("version", version), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get package %s/%s: %w", target, version, err)
	}

	return pkg, nil
}

func (s *Service) GetDownloadCounters(ctx context.Context, target string) (*entity.PackageCounters, error) {
	counters, err := s.counters.GetDownloadCounters(ctx, target)
	if err != nil {
		s.log.Error("Cannot get download counters", slog.String("target", target), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get %s counters: %w", target, err)
	}

	return counters, nil
}

func (s *Service) completed(ctx context.Context, target, version string) {
	counter, err := s.counters.IncDownloadCounter(ctx, target, version)
	if err != nil {
		s.log.Error("Cannot increment download counter", slog.String("target", target), slog.String("version", version), slog.Any("error", err))

		return
	}

	s.log.Info("Package downloaded", slog.String("target", target), slog.String("version", version), slog.Int64("counter", counter))
}

// Stream is the archive of one package. Completed streams are counted as
// downloads.
type Stream struct {
	ctx         context.Context
	lease       *encoder.Lease
	srv         *Service
	target      string
	version     string
	packageType string
	started     time.Time
	done        bool
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.lease.Read(p)
	if n > 0 {
		streamBytes.WithLabelValues(s.packageType).Add(float64(n))
	}

	if err != nil && !s.done {
		if errors.Is(err, io.EOF) {
			s.finish(resultSuccess)
			s.srv.completed(s.ctx, s.target, s.version)
		} else {
			s.finish(resultFailure)
		}
	}

	return n, err
}

// Close returns the encoder to the pool. Closing before the end truncates the
// archive.
func (s *Stream) Close() error {
	err := s.lease.Close()
	if !s.done {
		s.finish(resultClosed)
	}

	return err
}

func (s *Stream) Written() int64 {
	return s.lease.Written()
}

func (s *Stream) finish(result string) {
	s.done = true
	streamCounter.WithLabelValues(s.packageType, result).Inc()
	streamDuration.WithLabelValues(s.packageType, result).Observe(time.Since(s.started).Seconds())
}
