package encoder

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/manifest"
	"github.com/klauspost/compress/flate"
)

const (
	DefaultChunkSize        = 32 * 1024
	DefaultCompressionLevel = flate.DefaultCompression
)

// ByteSource opens the content of one artifact by its source location.
type ByteSource interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

type State int

const (
	StateIdle State = iota
	StateInitialized
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	return [...]string{"Idle", "Initialized", "Streaming", "Draining", "Closed"}[s]
}

type Options struct {
	BufferSize       int
	ChunkSize        int
	CompressionLevel int
}

func (o *Options) setDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.CompressionLevel < flate.HuffmanOnly || o.CompressionLevel > flate.BestCompression {
		o.CompressionLevel = DefaultCompressionLevel
	}
}

/*
Encoder streams a deployment package as an io.Reader. The zip writer only
pushes bytes, so every Read drives it synchronously until the ring buffer
holds at least one byte: first the manifest, then one chunk of the current
artifact at a time, and finally the central directory.

An Encoder is owned by one goroutine between Reset and the end of the stream.
*/
type Encoder struct {
	src  ByteSource
	opts Options
	log  *slog.Logger

	ctx       context.Context
	manifest  *manifest.Manifest
	artifacts []*entity.Artifact

	buf   *Buffer
	chunk []byte
	state State
	index int
	err   error

	zw      *zip.Writer
	entry   io.Writer
	current io.ReadCloser
	copied  int64
	written int64

	// active is set from Reset until the archive writer is released.
	active atomic.Bool
}

func New(src ByteSource, opts Options, log *slog.Logger) *Encoder {
	opts.setDefaults()

	return &Encoder{
		src:   src,
		opts:  opts,
		log:   log.With(slog.String("item", "Encoder")),
		buf:   NewBuffer(opts.BufferSize),
		chunk: make([]byte, opts.ChunkSize),
		state: StateIdle,
	}
}

// Reset prepares the encoder for a new package and claims it until the stream
// ends or is closed. It fails while a previous stream is still running.
func (e *Encoder) Reset(ctx context.Context, m *manifest.Manifest, artifacts []*entity.Artifact) error {
	if e.active.Load() {
		return fmt.Errorf("cannot reset encoder: stream is still running")
	}

	e.ctx = ctx
	e.manifest = m
	e.artifacts = artifacts
	e.buf.Reset()
	e.state = StateIdle
	e.index = 0
	e.err = nil
	e.entry = nil
	e.current = nil
	e.copied = 0
	e.written = 0
	e.active.Store(true)

	return nil
}

func (e *Encoder) State() State {
	return e.state
}

// Idle reports whether the encoder holds no archive writer and no claimed
// stream, so it may be reused.
func (e *Encoder) Idle() bool {
	return !e.active.Load()
}

// Written is the number of archive bytes handed to the reader so far.
func (e *Encoder) Written() int64 {
	return e.written
}

// Read implements io.Reader. Bytes already returned are never retracted: after
// a failure the stream is truncated and must be discarded by the consumer.
func (e *Encoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for e.buf.Len() == 0 {
		if e.err != nil {
			return 0, e.err
		}

		if e.state == StateClosed {
			return 0, io.EOF
		}

		if err := e.step(); err != nil {
			e.fail(err)

			return 0, err
		}
	}

	n, _ := e.buf.Read(p)
	e.written += int64(n)

	return n, nil
}

// step advances the state machine by one unit of work.
func (e *Encoder) step() error {
	switch e.state {
	case StateIdle:
		return e.init()
	case StateInitialized, StateStreaming:
		e.state = StateStreaming

		return e.stream()
	case StateDraining:
		return e.drain()
	}

	return nil
}

func (e *Encoder) init() error {
	if e.manifest == nil {
		return common.ErrEncoderClosed
	}

	e.zw = zip.NewWriter(e.buf)

	level := e.opts.CompressionLevel
	e.zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	w, err := e.zw.CreateHeader(&zip.FileHeader{Name: manifest.Path, Method: zip.Deflate})
	if err != nil {
		return &common.WriteError{Entry: manifest.Path, Err: err}
	}

	if _, err := e.manifest.WriteTo(w); err != nil {
		return &common.WriteError{Entry: manifest.Path, Err: err}
	}

	e.state = StateInitialized
	e.log.Debug("Manifest written", slog.Int("entries", len(e.manifest.Entries)))

	return nil
}

func (e *Encoder) stream() error {
	if e.current == nil {
		for e.index < len(e.artifacts) && !e.artifacts[e.index].HasChanged {
			e.log.Debug("Skip unchanged artifact", slog.String("filename", e.artifacts[e.index].Filename()))
			e.index++
		}

		if e.index >= len(e.artifacts) {
			e.state = StateDraining

			return nil
		}

		if err := e.open(e.artifacts[e.index]); err != nil {
			return err
		}
	}

	artifact := e.artifacts[e.index]

	n, err := e.current.Read(e.chunk)
	if n > 0 {
		if _, werr := e.entry.Write(e.chunk[:n]); werr != nil {
			return &common.WriteError{Entry: artifact.Filename(), Err: werr}
		}
		e.copied += int64(n)
	}

	switch {
	case errors.Is(err, io.EOF):
		return e.next(artifact)
	case err != nil:
		return &common.FetchError{Location: artifact.URL(), Err: err}
	}

	return nil
}

func (e *Encoder) open(artifact *entity.Artifact) error {
	if err := e.ctx.Err(); err != nil {
		return &common.FetchError{Location: artifact.URL(), Err: err}
	}

	rc, err := e.src.Open(e.ctx, artifact.URL())
	if err != nil {
		return &common.FetchError{Location: artifact.URL(), Err: err}
	}
	e.current = rc
	e.copied = 0

	w, err := e.zw.CreateHeader(&zip.FileHeader{Name: artifact.Filename(), Method: zip.Deflate})
	if err != nil {
		return &common.WriteError{Entry: artifact.Filename(), Err: err}
	}
	e.entry = w

	e.log.Debug("Artifact opened", slog.String("filename", artifact.Filename()), slog.String("url", artifact.URL()))

	return nil
}

// next closes the exhausted source and moves on to the following artifact.
func (e *Encoder) next(artifact *entity.Artifact) error {
	rc := e.current
	e.current = nil
	e.entry = nil

	if err := rc.Close(); err != nil {
		return &common.FetchError{Location: artifact.URL(), Err: err}
	}

	if size := artifact.Size(); size != entity.SizeUnknown && size != e.copied {
		return &common.FetchError{
			Location: artifact.URL(),
			Err:      fmt.Errorf("read %d bytes, expected %d", e.copied, size),
		}
	}

	e.index++

	return nil
}

func (e *Encoder) drain() error {
	zw := e.zw
	e.zw = nil

	if err := zw.Close(); err != nil {
		e.active.Store(false)

		return &common.WriteError{Err: err}
	}

	e.state = StateClosed
	e.active.Store(false)
	e.log.Debug("Archive finished", slog.Int64("written", e.written+int64(e.buf.Len())))

	return nil
}

// fail aborts the stream. Buffered bytes are dropped, the failure sticks.
func (e *Encoder) fail(err error) {
	e.err = err
	e.release()
	e.buf.Reset()
	e.state = StateClosed

	e.log.Error("Stream aborted", slog.Int("artifact_index", e.index), slog.Any("error", err))
}

// release closes the open source and the archive writer. Failures are logged
// and returned only to callers that have no earlier error to report.
func (e *Encoder) release() error {
	var first error

	if e.current != nil {
		if err := e.current.Close(); err != nil {
			e.log.Warn("Cannot close artifact source", slog.Any("error", err))
			first = err
		}
		e.current = nil
		e.entry = nil
	}

	if e.zw != nil {
		if err := e.zw.Close(); err != nil {
			e.log.Warn("Cannot close archive writer", slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
		e.zw = nil
	}

	e.active.Store(false)

	return first
}

// Close releases every resource held by the stream. It is legal at any state;
// closing before EOF truncates the archive.
func (e *Encoder) Close() error {
	if e.state == StateClosed && e.zw == nil && e.current == nil {
		e.buf.Reset()

		return nil
	}

	err := e.release()
	e.buf.Reset()
	e.state = StateClosed
	if e.err == nil {
		e.err = common.ErrEncoderClosed
	}

	return err
}
