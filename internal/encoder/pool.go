package encoder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/manifest"
)

const DefaultMaxIdle = 32

// Outcome tells how the pool satisfied a Get.
type Outcome string

const (
	OutcomeReused    Outcome = "reused"
	OutcomeAllocated Outcome = "allocated"
)

/*
Pool keeps released encoders by caller key. A leased encoder is not tracked
by the pool at all: it comes back only through Lease.Close, so no two holders
ever share one. At most maxIdle released encoders are kept.
*/
type Pool struct {
	mu      sync.Mutex
	idle    map[string]*Encoder
	maxIdle int
	src     ByteSource
	opts    Options
	log     *slog.Logger
}

func NewPool(src ByteSource, opts Options, maxIdle int, log *slog.Logger) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}

	return &Pool{
		idle:    make(map[string]*Encoder),
		maxIdle: maxIdle,
		src:     src,
		opts:    opts,
		log:     log.With(slog.String("item", "EncoderPool")),
	}
}

// Get leases an encoder already reset for the package. The encoder stays with
// the lease until the lease is closed.
func (p *Pool) Get(ctx context.Context, key string, m *manifest.Manifest, artifacts []*entity.Artifact) (*Lease, Outcome) {
	p.mu.Lock()
	e, ok := p.idle[key]
	delete(p.idle, key)
	p.mu.Unlock()

	if ok {
		if err := e.Reset(ctx, m, artifacts); err == nil {
			p.log.Debug("Reuse encoder", slog.String("key", key))

			return &Lease{pool: p, key: key, enc: e}, OutcomeReused
		}
	}

	e = New(p.src, p.opts, p.log)
	// A new encoder is never active, Reset cannot fail.
	_ = e.Reset(ctx, m, artifacts)
	p.log.Debug("Allocate encoder", slog.String("key", key))

	return &Lease{pool: p, key: key, enc: e}, OutcomeAllocated
}

func (p *Pool) put(key string, e *Encoder) {
	if !e.Idle() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.idle[key]; !ok && len(p.idle) >= p.maxIdle {
		p.log.Debug("Drop encoder, pool is full", slog.String("key", key))

		return
	}

	p.idle[key] = e
}

// Len returns the number of released encoders kept for reuse.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.idle)
}

// Lease is one holder's claim on a pooled encoder. Once closed it never
// touches the encoder again, even after the pool hands it to someone else.
type Lease struct {
	pool    *Pool
	key     string
	enc     *Encoder
	written int64
	closed  bool
}

func (l *Lease) Read(p []byte) (int, error) {
	if l.closed {
		return 0, common.ErrEncoderClosed
	}

	return l.enc.Read(p)
}

// Close releases the encoder and returns it to the pool. Repeated calls are
// no-ops.
func (l *Lease) Close() error {
	if l.closed {
		return nil
	}

	l.closed = true
	l.written = l.enc.Written()
	err := l.enc.Close()
	l.pool.put(l.key, l.enc)

	return err
}

// Written returns the archive bytes read through the lease.
func (l *Lease) Written() int64 {
	if l.closed {
		return l.written
	}

	return l.enc.Written()
}
