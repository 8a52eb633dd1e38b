package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jgivc/deploypkg/internal/adapter/fsadapter"
	"github.com/jgivc/deploypkg/internal/adapter/httpsource"
	"github.com/jgivc/deploypkg/internal/adapter/tpladapter"
	"github.com/jgivc/deploypkg/internal/config"
	"github.com/jgivc/deploypkg/internal/encoder"
	"github.com/jgivc/deploypkg/internal/entity"
	httphandler "github.com/jgivc/deploypkg/internal/handler/http"
	"github.com/jgivc/deploypkg/internal/repository/deployment"
	srvdeployment "github.com/jgivc/deploypkg/internal/service/deployment"
	sindex "github.com/jgivc/deploypkg/internal/service/index"
	"github.com/jgivc/deploypkg/internal/service/page"
	"github.com/jgivc/deploypkg/internal/storage/index"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	indexTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	indexer *sindex.IndexerService
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func newLogger(level string) *slog.Logger {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}

	return slog.New(slog.NewTextHandler(os.Stderr, lo))
}

// newSource routes artifact locations to the work dir or to HTTP by scheme.
func newSource(cfg *config.Config, log *slog.Logger) *httpsource.Mux {
	web := httpsource.New(cfg.SourceConfig.HTTPTimeout, log)

	mux := httpsource.NewMux()
	mux.Handle(httpsource.SchemeFile, fsadapter.NewSource(cfg.IndexerConfig.WorkDir, log))
	mux.Handle(httpsource.SchemeHTTP, web)
	mux.Handle(httpsource.SchemeHTTPS, web)

	return mux
}

func encoderOptions(cfg *config.EncoderConfig) encoder.Options {
	return encoder.Options{
		BufferSize:       cfg.BufferSize,
		ChunkSize:        cfg.ChunkSize,
		CompressionLevel: cfg.CompressionLevel,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	opt, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		panic(err)
	}

	rdb := redis.NewClient(opt)
	ctx := context.Background()
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		panic(err)
	}

	log := newLogger(a.cfg.LogLevel)
	a.log = log

	drepo, err := deployment.NewDeploymentRepository(rdb, log)
	if err != nil {
		panic(err)
	}

	fsa, err := fsadapter.NewFSAdapter(a.cfg.FSAdapterConfig(), log)
	if err != nil {
		panic(err)
	}

	store := index.NewIndexStorage(afero.NewOsFs(), fsa, &a.cfg.IndexerConfig, log)
	a.indexer = sindex.NewIndexService(store, drepo, log)

	pool := encoder.NewPool(newSource(a.cfg, log), encoderOptions(&a.cfg.EncoderConfig), a.cfg.EncoderConfig.PoolSize, log)
	dSrv := srvdeployment.NewDeploymentService(drepo, drepo, pool, log)

	tpl, err := tpladapter.NewTplAdapter(a.cfg.URL, a.cfg.TemplateFileName)
	if err != nil {
		panic(err)
	}
	pSrv := page.NewPageService(dSrv, tpl, log)

	http.Handle("GET /deployment/{target}/versions/{$}", httphandler.NewVersionsHandler(dSrv, log))
	http.Handle("GET /deployment/{target}/versions/{version}/{$}", httphandler.NewDownloadHandler(dSrv, log))
	http.Handle("GET /notes/{target}/{version}/{$}", httphandler.NewPageHandler(pSrv, log))
	http.Handle("GET /stat/{target}/{$}", httphandler.NewCounterHandler(dSrv, log))

	http.Handle("GET /index/{$}", httphandler.NewIndexHandler(a.cfg.URL, a.indexer, log))
	http.Handle("GET /metrics", promhttp.Handler())

	a.srv = &http.Server{
		Addr: a.cfg.Listen,
	}

	go a.Index()

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

func (a *App) Index() {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	fmt.Println("Building...")

	packages, err := a.indexer.Index(ctx)
	if err != nil {
		fmt.Printf("Cannot build index: %s\n", err)

		return
	}

	for i, pkg := range packages {
		fmt.Printf("%d. %s -> %s/deployment/%s/versions/%s/, artifacts: %d\n",
			i+1, pkg.SourcePath, a.cfg.URL, pkg.Target, pkg.Version, len(pkg.Artifacts))
	}

	fmt.Println("Done.")
}

func (a *App) Stop() {
	if a.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(ctx); err != nil && a.log != nil {
		a.log.Error("Cannot shutdown server", slog.Any("error", err))
	}
}

// offlineCounters drops download counts of the offline build.
type offlineCounters struct{}

func (offlineCounters) IncDownloadCounter(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (offlineCounters) GetDownloadCounters(_ context.Context, target string) (*entity.PackageCounters, error) {
	return &entity.PackageCounters{Target: target, Versions: map[string]int64{}}, nil
}

/*
Build writes one package straight from the work dir to outPath, without redis.
A fix package is written when from is set and differs from version.
*/
func (a *App) Build(ctx context.Context, target, version, from, outPath string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log := newLogger(cfg.LogLevel)
	a.log = log

	fsa, err := fsadapter.NewFSAdapter(cfg.FSAdapterConfig(), log)
	if err != nil {
		return fmt.Errorf("cannot create fs adapter: %w", err)
	}

	pool := encoder.NewPool(newSource(cfg, log), encoderOptions(&cfg.EncoderConfig), cfg.EncoderConfig.PoolSize, log)
	dSrv := srvdeployment.NewDeploymentService(fsa, offlineCounters{}, pool, log)

	stream, err := dSrv.Open(ctx, "build", target, version, from)
	if err != nil {
		return fmt.Errorf("cannot open package: %w", err)
	}
	defer stream.Close()

	fs := afero.NewOsFs()
	out, err := fs.Create(outPath)
	if err != nil {
		return fmt.Errorf("cannot create output file: %w", err)
	}

	n, err := io.Copy(out, stream)
	if err != nil {
		out.Close()
		fs.Remove(outPath)

		return fmt.Errorf("cannot write package: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("cannot close output file: %w", err)
	}

	log.Info("Package written", slog.String("target", target), slog.String("version", version), slog.String("path", outPath), slog.Int64("size", n))

	return nil
}
