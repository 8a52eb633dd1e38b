package tpladapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jgivc/deploypkg/internal/entity"
	"github.com/stretchr/testify/require"
)

func sizePtr(n int64) *int64 {
	return &n
}

func testPackage() *entity.Package {
	return &entity.Package{
		Target:  "gateway",
		Version: "2.0.0",
		Title:   "Gateway <2.0>",
		Notes:   `<p>Bumps <span class="artifact" data-filename="api.jar">api.jar</span></p>`,
		Artifacts: []entity.RawArtifact{
			{URL: "/packages/gateway/2.0.0/api.jar", Filename: "api.jar", SymbolicName: "api", Version: "1.1.0", Size: sizePtr(2048)},
			{URL: "http://store.local/cfg/v1", Filename: "v1", ProcessorPID: "rp.pid"},
		},
	}
}

func TestRender(t *testing.T) {
	a, err := NewTplAdapter("http://dp.local/", "")
	require.NoError(t, err)

	page, err := a.Render(testPackage(), []string{"1.0.0", "1.5.0", "2.0.0", "3.0.0"})
	require.NoError(t, err)

	require.Contains(t, page, "<title>Gateway &lt;2.0&gt;</title>")
	require.Contains(t, page, `href="http://dp.local/deployment/gateway/versions/2.0.0/"`)
	require.Contains(t, page, `href="http://dp.local/deployment/gateway/versions/2.0.0/?current=1.0.0"`)
	require.Contains(t, page, `href="http://dp.local/deployment/gateway/versions/2.0.0/?current=1.5.0"`)
	require.NotContains(t, page, "current=3.0.0")
	require.Contains(t, page, `<span class="artifact" data-filename="api.jar">api.jar</span>`)
	require.Contains(t, page, "<td>2.0 KiB</td>")
	require.Contains(t, page, "<td>-</td>")
}

func TestCustomTemplate(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(valid, []byte(`{{define "PAGE"}}{{.Package.Target}}:{{range .Versions}}{{.}} {{end}}{{end}}`), 0o644))

	a, err := NewTplAdapter("http://dp.local", valid)
	require.NoError(t, err)

	page, err := a.Render(testPackage(), []string{"1.0.0", "2.0.0"})
	require.NoError(t, err)
	require.Equal(t, "gateway:1.0.0 ", page)

	noPage := filepath.Join(dir, "other.html")
	require.NoError(t, os.WriteFile(noPage, []byte(`{{define "OTHER"}}x{{end}}`), 0o644))

	_, err = NewTplAdapter("http://dp.local", noPage)
	require.Error(t, err)

	_, err = NewTplAdapter("http://dp.local", filepath.Join(dir, "missing.html"))
	require.Error(t, err)
}

func TestFormatSize(t *testing.T) {
	testCases := []struct {
		size     *int64
		expected string
	}{
		{nil, "-"},
		{sizePtr(0), "0 B"},
		{sizePtr(1023), "1023 B"},
		{sizePtr(1536), "1.5 KiB"},
		{sizePtr(5 * 1024 * 1024), "5.0 MiB"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, formatSize(tc.size))
		})
	}
}
