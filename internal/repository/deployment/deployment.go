package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/redis/go-redis/v9"
)

const (
	KeyVersion1       = "v1"
	KeyVersion2       = "v2"
	KeyActiveVersion  = "av" // STRING. Active data version, v1 or v2.
	KeyTargets        = "tg" // SET. tg:ver -> target names
	KeyTargetVersions = "tv" // SET. tv:ver:target -> package versions of the target
	KeyPackages       = "pk" // HASH. pk:ver:target version: package json

	KeyDownloadStats = "ds" // HASH. ds:target version: counter. Survives reindexing. HINCRBY ds:{target} {version} 1

	KeyEmpty     = ""
	KeySeparator = ":"

	ScanCount = 1000
)

var (
	ClearableKeys = []string{KeyTargets, KeyTargetVersions, KeyPackages}
)

type deploymentRepository struct {
	ver atomic.Value
	cl  *redis.Client
	log *slog.Logger
}

func NewDeploymentRepository(cl *redis.Client, log *slog.Logger) (*deploymentRepository, error) {
	repo := &deploymentRepository{
		cl:  cl,
		log: log.With(slog.String("item", "DeploymentRepository")),
	}

	ver, _, err := repo.getVersions(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cannot get active version: %w", err)
	}

	repo.ver.Store(ver)

	return repo, nil
}

// Save writes the packages under the standby version and makes it active.
// Readers keep using the previous set until the switch.
func (r *deploymentRepository) Save(ctx context.Context, packages []*entity.Package) error {
	verActive, verStandby, err := r.getVersions(ctx)
	if err != nil {
		r.log.Error("Cannot get standby data version", slog.Any("error", err))

		return fmt.Errorf("cannot get active version: %w", err)
	}
	r.log.Info("Save new data", slog.String("active_version", verActive), slog.String("standby_version", verStandby))

	if err := r.clearOldData(ctx, verStandby); err != nil {
		r.log.Error("Cannot clear old data", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot clear old data: %w", err)
	}

	if err := r.saveNewData(ctx, verStandby, packages); err != nil {
		r.log.Error("Cannot save new data", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot save new data: %w", err)
	}

	if _, err := r.cl.Set(ctx, KeyActiveVersion, verStandby, 0).Result(); err != nil {
		r.log.Error("Cannot switch to new version", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot switch to new version: %w", err)
	}

	r.ver.Store(verStandby)

	if err := r.clearDeletedCounters(ctx, packages); err != nil {
		r.log.Error("Cannot delete counters of removed targets", slog.String("version", verStandby), slog.Any("error", err))

		return fmt.Errorf("cannot delete counters of removed targets: %w", err)
	}

	return nil
}

func (r *deploymentRepository) saveNewData(ctx context.Context, ver string, packages []*entity.Package) error {
	log := r.log.With(slog.String("op", "saveNewData"), slog.String("version", ver))
	log.Info("Save new data", slog.Int("packages", len(packages)))

	pipe := r.cl.Pipeline()
	for _, pkg := range packages {
		data, err := json.Marshal(pkg)
		if err != nil {
			return fmt.Errorf("cannot marshal package %s/%s: %w", pkg.Target, pkg.Version, err)
		}

		pipe.SAdd(ctx, getKey(KeyTargets, ver), pkg.Target)
		pipe.SAdd(ctx, getKey(KeyTargetVersions, ver, pkg.Target), pkg.Version)
		pipe.HSet(ctx, getKey(KeyPackages, ver, pkg.Target), pkg.Version, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot save new data: %w", err)
	}

	return nil
}

func (r *deploymentRepository) clearOldData(ctx context.Context, ver string) error {
	log := r.log.With(slog.String("op", "clearOldData"), slog.String("version", ver))
	log.Info("Clear old data")

	for _, key := range ClearableKeys {
		pattern := getKey(key, ver, "*")

		var deletedCount int64
		err := r.scan(ctx, pattern, func(keys []string) error {
			count, err := r.cl.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("error deleting keys: %w", err)
			}
			deletedCount += count

			return nil
		})
		if err != nil {
			return err
		}

		if _, err := r.cl.Del(ctx, getKey(key, ver)).Result(); err != nil {
			return fmt.Errorf("error deleting keys: %w", err)
		}

		log.Info("Clear keys", slog.String("pattern", pattern), slog.Int64("key_count", deletedCount))
	}

	return nil
}

func (r *deploymentRepository) clearDeletedCounters(ctx context.Context, packages []*entity.Package) error {
	keep := make(map[string]struct{}, len(packages))
	for _, pkg := range packages {
		keep[getKey(KeyDownloadStats, pkg.Target)] = struct{}{}
	}

	var stale []string
	err := r.scan(ctx, getKey(KeyDownloadStats, "*"), func(keys []string) error {
		for _, key := range keys {
			if _, exists := keep[key]; !exists {
				stale = append(stale, key)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		return nil
	}

	if _, err := r.cl.Del(ctx, stale...).Result(); err != nil {
		return fmt.Errorf("cannot delete keys: %w", err)
	}
	r.log.Info("Delete counters of removed targets", slog.Int("key_count", len(stale)))

	return nil
}

func (r *deploymentRepository) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, nextCursor, err := r.cl.Scan(ctx, cursor, pattern, ScanCount).Result()
		if err != nil {
			return fmt.Errorf("error scanning keys: %w", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

/*
getVersions return active and standby versions
*/
func (r *deploymentRepository) getVersions(ctx context.Context) (string, string, error) {
	ver, err := r.cl.Get(ctx, KeyActiveVersion).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return KeyEmpty, KeyEmpty, fmt.Errorf("cannot get active version: %w", err)
	}

	switch ver {
	case KeyVersion1:
		return KeyVersion1, KeyVersion2, nil
	case KeyVersion2:
		return KeyVersion2, KeyVersion1, nil
	}

	r.log.Info("Active version key is not found. Try to set new one", slog.String("version", KeyVersion1))

	if _, err = r.cl.Set(ctx, KeyActiveVersion, KeyVersion1, 0).Result(); err != nil {
		return KeyEmpty, KeyEmpty, fmt.Errorf("cannot set version key: %w", err)
	}

	return KeyVersion1, KeyVersion2, nil
}

func (r *deploymentRepository) getActiveVersion() string {
	return r.ver.Load().(string)
}

func (r *deploymentRepository) Targets(ctx context.Context) ([]string, error) {
	targets, err := r.cl.SMembers(ctx, getKey(KeyTargets, r.getActiveVersion())).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get targets: %w", err)
	}

	return targets, nil
}

// Versions returns the package versions of a target in no particular order.
func (r *deploymentRepository) Versions(ctx context.Context, target string) ([]string, error) {
	versions, err := r.cl.SMembers(ctx, getKey(KeyTargetVersions, r.getActiveVersion(), target)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get target %s versions: %w", target, err)
	}

	if len(versions) < 1 {
		return nil, common.ErrPackageNotFoundError
	}

	return versions, nil
}

func (r *deploymentRepository) Package(ctx context.Context, target, version string) (*entity.Package, error) {
	ver := r.getActiveVersion()

	data, err := r.cl.HGet(ctx, getKey(KeyPackages, ver, target), version).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("cannot get package %s/%s: %w", target, version, err)
		}

		known, err := r.cl.SIsMember(ctx, getKey(KeyTargets, ver), target).Result()
		if err != nil {
			return nil, fmt.Errorf("cannot check target %s: %w", target, err)
		}
		if !known {
			return nil, common.ErrPackageNotFoundError
		}

		return nil, common.ErrVersionNotFoundError
	}

	var pkg entity.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal package %s/%s: %w", target, version, err)
	}

	return &pkg, nil
}

func (r *deploymentRepository) IncDownloadCounter(ctx context.Context, target, version string) (int64, error) {
	counter, err := r.cl.HIncrBy(ctx, getKey(KeyDownloadStats, target), version, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("cannot increment %s/%s counter: %w", target, version, err)
	}

	return counter, nil
}

// GetDownloadCounters returns the completed downloads of every published
// version of the target; versions never downloaded count zero.
func (r *deploymentRepository) GetDownloadCounters(ctx context.Context, target string) (*entity.PackageCounters, error) {
	versions, err := r.Versions(ctx, target)
	if err != nil {
		return nil, err
	}

	pipe := r.cl.Pipeline()
	for _, version := range versions {
		pipe.HGet(ctx, getKey(KeyDownloadStats, target), version)
	}

	// redis.Nil of a single HGET also fails Exec; the commands are checked one by one.
	cmds, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("cannot exec pipe: %w", err)
	}

	counters := &entity.PackageCounters{
		Target:   target,
		Versions: make(map[string]int64, len(versions)),
	}

	for i, cmd := range cmds {
		var counter int64

		val, err := cmd.(*redis.StringCmd).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				r.log.Error("Cannot get download counter", slog.String("target", target), slog.Any("error", err))
			}
		} else {
			counter, err = strconv.ParseInt(val, 10, 64)
			if err != nil {
				r.log.Error("Cannot convert counter value to int", slog.String("target", target), slog.Any("error", err))
				counter = 0
			}
		}

		counters.Versions[versions[i]] = counter
	}

	return counters, nil
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
