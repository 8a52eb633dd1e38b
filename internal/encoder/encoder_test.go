package encoder

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jgivc/deploypkg/internal/assembler"
	"github.com/jgivc/deploypkg/internal/common"
	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/jgivc/deploypkg/internal/manifest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	args := m.Called(ctx, location)
	if err := args.Error(1); err != nil {
		return nil, err
	}

	return &trackingReader{r: bytes.NewReader(args.Get(0).([]byte))}, nil
}

// trackingReader fails after failAfter bytes when failAfter > 0 and records Close.
type trackingReader struct {
	r         io.Reader
	read      int
	failAfter int
	closed    bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	if t.failAfter > 0 && t.read >= t.failAfter {
		return 0, errors.New("connection reset")
	}
	if t.failAfter > 0 && len(p) > t.failAfter-t.read {
		p = p[:t.failAfter-t.read]
	}

	n, err := t.r.Read(p)
	t.read += n

	return n, err
}

func (t *trackingReader) Close() error {
	t.closed = true

	return nil
}

type staticSource struct {
	readers map[string]*trackingReader
}

func (s *staticSource) Open(_ context.Context, location string) (io.ReadCloser, error) {
	r, ok := s.readers[location]
	if !ok {
		return nil, errors.New("not found")
	}

	return r, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func classify(t *testing.T, raw entity.RawArtifact) *entity.Artifact {
	t.Helper()

	a, err := entity.Classify(raw)
	require.NoError(t, err)

	return a
}

var (
	rawAPI = entity.RawArtifact{URL: "store/api-1.1.0.jar", SymbolicName: "api", Version: "1.1.0"}
	rawRP  = entity.RawArtifact{URL: "store/rp-1.0.0.jar", SymbolicName: "rp", Version: "1.0.0", Customizer: true, ProcessorPID: "rp.pid"}
	rawCfg = entity.RawArtifact{URL: "cfg/v1", ProcessorPID: "rp.pid"}

	contents = map[string][]byte{
		"store/api-1.1.0.jar": bytes.Repeat([]byte("api bundle "), 5000),
		"store/rp-1.0.0.jar":  []byte("resource processor bundle"),
		"cfg/v1":              []byte("<config/>"),
	}
)

func newMockSource() *mockSource {
	src := &mockSource{}
	for location, data := range contents {
		src.On("Open", mock.Anything, location).Return(data, nil)
	}

	return src
}

func fullPackage(t *testing.T) (*manifest.Manifest, []*entity.Artifact) {
	t.Helper()

	artifacts := entity.MarkAllChanged([]*entity.Artifact{
		classify(t, rawCfg),
		classify(t, rawRP),
		classify(t, rawAPI),
	})

	m, ordered, err := assembler.Assemble("target-1", "2.0.0", "", artifacts)
	require.NoError(t, err)

	return m, ordered
}

func encode(t *testing.T, src ByteSource, m *manifest.Manifest, artifacts []*entity.Artifact) []byte {
	t.Helper()

	e := New(src, Options{}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	data, err := io.ReadAll(e)
	require.NoError(t, err)
	require.Equal(t, StateClosed, e.State())
	require.True(t, e.Idle())
	require.NoError(t, e.Close())

	return data
}

func readArchive(t *testing.T, data []byte) (*zip.Reader, map[string][]byte) {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[f.Name] = content
	}

	return zr, files
}

func TestEncoderFullPackage(t *testing.T) {
	src := newMockSource()
	m, artifacts := fullPackage(t)

	data := encode(t, src, m, artifacts)
	zr, files := readArchive(t, data)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{manifest.Path, "api-1.1.0.jar", "rp-1.0.0.jar", "v1"}, names)

	for _, a := range artifacts {
		require.Equal(t, contents[a.URL()], files[a.Filename()])
	}

	parsed, err := manifest.Parse(bytes.NewReader(files[manifest.Path]))
	require.NoError(t, err)
	require.Equal(t, "target-1", parsed.Main.Get(manifest.HeaderSymbolicName))
	require.Equal(t, "2.0.0", parsed.Main.Get(manifest.HeaderVersion))
	require.Len(t, parsed.Entries, 3)

	for _, a := range artifacts {
		entry, ok := parsed.Entry(a.Filename())
		require.True(t, ok, a.Filename())

		switch a.Kind() {
		case entity.KindBundle:
			require.Equal(t, a.SymbolicName(), entry.Attributes.Get(manifest.HeaderBundleSymbolicName))
			require.Equal(t, a.Version(), entry.Attributes.Get(manifest.HeaderBundleVersion))
			require.Empty(t, entry.Attributes.Get(manifest.HeaderCustomizer))
		case entity.KindProcessor:
			require.Equal(t, a.SymbolicName(), entry.Attributes.Get(manifest.HeaderBundleSymbolicName))
			require.Equal(t, "true", entry.Attributes.Get(manifest.HeaderCustomizer))
		case entity.KindResource:
			require.Equal(t, a.ProcessorPID(), entry.Attributes.Get(manifest.HeaderResourceProcessor))
		}
		require.Empty(t, entry.Attributes.Get(manifest.HeaderMissing))
	}

	src.AssertNumberOfCalls(t, "Open", 3)
}

func TestEncoderIsDeterministic(t *testing.T) {
	m, artifacts := fullPackage(t)

	first := encode(t, newMockSource(), m, artifacts)
	second := encode(t, newMockSource(), m, artifacts)

	require.Equal(t, first, second)
}

func TestEncoderSmallReads(t *testing.T) {
	m, artifacts := fullPackage(t)
	want := encode(t, newMockSource(), m, artifacts)

	e := New(newMockSource(), Options{BufferSize: minBufferSize, ChunkSize: 7}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	var got bytes.Buffer
	p := make([]byte, 3)
	for {
		n, err := e.Read(p)
		require.True(t, n > 0 || err != nil, "Read returned neither bytes nor error")
		got.Write(p[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}

	require.Equal(t, want, got.Bytes())
	require.Equal(t, int64(got.Len()), e.Written())

	// Closed stays at EOF.
	n, err := e.Read(p)
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestEncoderFixPackageSkipsUnchanged(t *testing.T) {
	src := newMockSource()

	from := []*entity.Artifact{classify(t, rawAPI), classify(t, rawRP), classify(t, rawCfg)}
	apiNext := classify(t, entity.RawArtifact{URL: "store/api-1.2.0.jar", SymbolicName: "api", Version: "1.2.0"})
	src.On("Open", mock.Anything, "store/api-1.2.0.jar").Return([]byte("api 1.2.0"), nil)
	to := []*entity.Artifact{apiNext, classify(t, rawRP), classify(t, rawCfg)}

	m, artifacts, err := assembler.Assemble("target-1", "2.0.0", "1.0.0", entity.MarkChanges(from, to))
	require.NoError(t, err)
	require.Equal(t, "[1.0.0,2.0.0)", m.Main.Get(manifest.HeaderFixPack))

	data := encode(t, src, m, artifacts)
	zr, files := readArchive(t, data)

	require.Len(t, zr.File, 2)
	require.Equal(t, []byte("api 1.2.0"), files["api-1.2.0.jar"])

	parsed, err := manifest.Parse(bytes.NewReader(files[manifest.Path]))
	require.NoError(t, err)
	require.Len(t, parsed.Entries, 3)

	rp, ok := parsed.Entry("rp-1.0.0.jar")
	require.True(t, ok)
	require.Equal(t, "true", rp.Attributes.Get(manifest.HeaderMissing))
	cfg, ok := parsed.Entry("v1")
	require.True(t, ok)
	require.Equal(t, "true", cfg.Attributes.Get(manifest.HeaderMissing))
	api, ok := parsed.Entry("api-1.2.0.jar")
	require.True(t, ok)
	require.Empty(t, api.Attributes.Get(manifest.HeaderMissing))

	src.AssertNumberOfCalls(t, "Open", 1)
	src.AssertNotCalled(t, "Open", mock.Anything, "store/rp-1.0.0.jar")
	src.AssertNotCalled(t, "Open", mock.Anything, "cfg/v1")
}

func TestEncoderOpenFailureAbortsStream(t *testing.T) {
	src := &mockSource{}
	src.On("Open", mock.Anything, "store/api-1.1.0.jar").Return(contents["store/api-1.1.0.jar"], nil)
	src.On("Open", mock.Anything, "store/rp-1.0.0.jar").Return(nil, errors.New("404 not found"))

	m, artifacts := fullPackage(t)
	e := New(src, Options{}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	data, err := io.ReadAll(e)
	require.Error(t, err)
	require.NotEmpty(t, data, "bytes before the failure are delivered")

	var fetchErr *common.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "store/rp-1.0.0.jar", fetchErr.Location)

	require.Equal(t, StateClosed, e.State())
	require.True(t, e.Idle())

	_, again := e.Read(make([]byte, 16))
	require.ErrorIs(t, again, err)

	require.NoError(t, e.Close())
	src.AssertNotCalled(t, "Open", mock.Anything, "cfg/v1")
}

func TestEncoderReadFailureClosesSource(t *testing.T) {
	broken := &trackingReader{r: bytes.NewReader(contents["store/api-1.1.0.jar"]), failAfter: 100}
	src := &staticSource{readers: map[string]*trackingReader{"store/api-1.1.0.jar": broken}}

	m, artifacts := fullPackage(t)
	e := New(src, Options{ChunkSize: 64}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	_, err := io.ReadAll(e)

	var fetchErr *common.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "store/api-1.1.0.jar", fetchErr.Location)
	require.True(t, broken.closed)
	require.True(t, e.Idle())
}

func TestEncoderCloseMidArtifact(t *testing.T) {
	api := &trackingReader{r: bytes.NewReader(contents["store/api-1.1.0.jar"])}
	src := &staticSource{readers: map[string]*trackingReader{"store/api-1.1.0.jar": api}}

	m, artifacts := fullPackage(t)
	e := New(src, Options{ChunkSize: 16}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	p := make([]byte, 8)
	for e.State() != StateStreaming || api.read == 0 {
		_, err := e.Read(p)
		require.NoError(t, err)
	}
	require.False(t, e.Idle())

	require.NoError(t, e.Close())
	require.True(t, api.closed)
	require.True(t, e.Idle())
	require.Equal(t, StateClosed, e.State())

	_, err := e.Read(p)
	require.ErrorIs(t, err, common.ErrEncoderClosed)

	// Closing twice is harmless.
	require.NoError(t, e.Close())
}

func TestEncoderSizeMismatch(t *testing.T) {
	size := int64(3)
	raw := rawAPI
	raw.Size = &size

	src := newMockSource()
	m, artifacts, err := assembler.Assemble("target-1", "2.0.0", "", entity.MarkAllChanged([]*entity.Artifact{classify(t, raw)}))
	require.NoError(t, err)

	e := New(src, Options{}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))

	_, err = io.ReadAll(e)

	var fetchErr *common.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Contains(t, fetchErr.Error(), "expected 3")
}

func TestEncoderCancelledContext(t *testing.T) {
	src := newMockSource()
	m, artifacts := fullPackage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(src, Options{}, testLogger())
	require.NoError(t, e.Reset(ctx, m, artifacts))

	_, err := io.ReadAll(e)
	require.ErrorIs(t, err, context.Canceled)
	src.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestEncoderResetWhileBusy(t *testing.T) {
	m, artifacts := fullPackage(t)

	e := New(newMockSource(), Options{}, testLogger())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))
	require.Error(t, e.Reset(context.Background(), m, artifacts))

	require.NoError(t, e.Close())
	require.NoError(t, e.Reset(context.Background(), m, artifacts))
}
