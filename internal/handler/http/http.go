package httphandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
)

const (
	ContentTypeDeploymentPackage = "application/vnd.osgi.dp"

	QueryCurrent = "current"
)

var (
	nameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)
)

type IndexService interface {
	Index(ctx context.Context) ([]*entity.Package, error)
}

type VersionService interface {
	Versions(ctx context.Context, target string) ([]string, error)
}

type DownloadService interface {
	Open(ctx context.Context, key, target, version, from string) (io.ReadCloser, error)
}

type PageService interface {
	GetPage(ctx context.Context, target, version string) (string, error)
}

type CounterService interface {
	GetDownloadCounters(ctx context.Context, target string) (*entity.PackageCounters, error)
}

func notFound(err error) bool {
	return errors.Is(err, common.ErrPackageNotFoundError) || errors.Is(err, common.ErrVersionNotFoundError)
}

func validNames(names ...string) bool {
	for _, name := range names {
		if !nameRegexp.MatchString(name) {
			return false
		}
	}

	return true
}

func NewIndexHandler(siteURL string, srv IndexService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "IndexHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		packages, err := srv.Index(context.Background())
		if err != nil {
			switch {
			case errors.Is(err, common.ErrIndexingProcessHasAlreadyStarted):
				http.Error(w, "Index process has already started", http.StatusConflict)
			default:
				log.Error("Cannot build index", slog.Any("error", err))
				http.Error(w, "Cannot start index process", http.StatusInternalServerError)
			}

			return
		}

		buf := bytes.Buffer{}
		for _, pkg := range packages {
			buf.WriteString(fmt.Sprintf("%s -> %s/deployment/%s/versions/%s/, artifacts: %d\n",
				pkg.SourcePath, siteURL, pkg.Target, pkg.Version, len(pkg.Artifacts)))
		}

		w.Write(buf.Bytes())
	}
}

func NewVersionsHandler(srv VersionService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "VersionsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		target := r.PathValue("target")
		if !validNames(target) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		versions, err := srv.Versions(r.Context(), target)
		if err != nil {
			switch {
			case notFound(err):
				http.Error(w, "Cannot find target", http.StatusNotFound)
			default:
				log.Error("Cannot get versions", slog.String("target", target), slog.Any("error", err))
				http.Error(w, "Cannot get versions", http.StatusInternalServerError)
			}

			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(strings.Join(versions, "\n") + "\n"))
	}
}

/*
NewDownloadHandler streams a deployment package. Errors found before the first
byte get a status code; once the archive has started, a failure aborts the
connection so the client never takes a truncated archive for a whole one.
*/
func NewDownloadHandler(srv DownloadService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "DownloadHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		target := r.PathValue("target")
		version := r.PathValue("version")
		from := r.URL.Query().Get(QueryCurrent)

		if !validNames(target, version) || (from != "" && !validNames(from)) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		log := log.With(
			slog.String("request_id", uuid.NewString()),
			slog.String("target", target),
			slog.String("version", version),
		)

		stream, err := srv.Open(r.Context(), clientKey(target, r), target, version, from)
		if err != nil {
			var (
				missing   *common.MissingProcessorError
				duplicate *common.DuplicateEntryError
			)

			switch {
			case notFound(err):
				http.Error(w, "Cannot find package", http.StatusNotFound)
			case errors.As(err, &missing), errors.As(err, &duplicate):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				log.Error("Cannot open package", slog.Any("error", err))
				http.Error(w, "Cannot get package", http.StatusInternalServerError)
			}

			return
		}
		defer stream.Close()

		filename := target + "-" + version
		if from != "" && from != version {
			filename = target + "-" + from + "-" + version
		}

		w.Header().Set("Content-Type", ContentTypeDeploymentPackage)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".dp"))

		n, err := io.Copy(w, stream)
		if err != nil {
			log.Error("Package stream aborted", slog.Int64("written", n), slog.Any("error", err))

			panic(http.ErrAbortHandler)
		}

		log.Info("Package sent", slog.String("from", from), slog.Int64("written", n))
	}
}

// clientKey binds pooled encoders to a target and client host.
func clientKey(target string, r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return target + "@" + host
}

func NewPageHandler(srv PageService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "PageHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		target := r.PathValue("target")
		version := r.PathValue("version")
		if !validNames(target, version) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		content, err := srv.GetPage(r.Context(), target, version)
		if err != nil {
			switch {
			case notFound(err):
				http.Error(w, "Cannot find package", http.StatusNotFound)
			default:
				log.Error("Cannot get page", slog.String("target", target), slog.Any("error", err))
				http.Error(w, "Cannot get page", http.StatusInternalServerError)
			}

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(content))
	}
}

func NewCounterHandler(srv CounterService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "CounterHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		target := r.PathValue("target")
		if !validNames(target) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		counters, err := srv.GetDownloadCounters(r.Context(), target)
		if err != nil {
			switch {
			case notFound(err):
				http.Error(w, "Cannot find target", http.StatusNotFound)
			default:
				http.Error(w, "Cannot get counters", http.StatusInternalServerError)
			}

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(counters); err != nil {
			log.Error("Cannot encode counters", slog.String("target", target), slog.Any("error", err))
		}
	}
}
