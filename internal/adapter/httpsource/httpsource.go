package httpsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jgivc/deploypkg/internal/encoder"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"

	userAgent = "deploypkg"
)

// Source fetches artifact bytes over http(s).
type Source struct {
	cl  *http.Client
	log *slog.Logger
}

func New(timeout time.Duration, log *slog.Logger) *Source {
	return NewWithClient(&http.Client{Timeout: timeout}, log)
}

func NewWithClient(cl *http.Client, log *slog.Logger) *Source {
	return &Source{
		cl:  cl,
		log: log.With(slog.String("item", "HTTPSource")),
	}
}

func (s *Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot get %s: %w", location, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()

		return nil, fmt.Errorf("cannot get %s: unexpected status %s", location, resp.Status)
	}

	s.log.Debug("Open artifact", slog.String("url", location), slog.Int64("content_length", resp.ContentLength))

	return resp.Body, nil
}

// Mux routes a location to the source registered for its scheme. Locations
// without a scheme are treated as files.
type Mux struct {
	sources map[string]encoder.ByteSource
}

func NewMux() *Mux {
	return &Mux{sources: make(map[string]encoder.ByteSource)}
}

func (m *Mux) Handle(scheme string, src encoder.ByteSource) {
	m.sources[strings.ToLower(scheme)] = src
}

func (m *Mux) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	scheme := SchemeFile
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}

	src, ok := m.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("no source for scheme %q", scheme)
	}

	return src.Open(ctx, location)
}
