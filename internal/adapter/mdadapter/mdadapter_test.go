package mdadapter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"
)

var artifacts = ListResolver{
	{URL: "api-1.1.0.jar", Filename: "api-1.1.0.jar", SymbolicName: "api", Version: "1.1.0"},
	{URL: "cfg/v1", Filename: "v1", ProcessorPID: "rp.pid"},
}

func render(t *testing.T, source string, r Resolver) (string, error) {
	t.Helper()

	md := goldmark.New(goldmark.WithExtensions(NewArtifactsExtension()))

	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))
	if err := Resolve(doc, r); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err := md.Renderer().Render(&buf, src, doc)

	return buf.String(), err
}

func TestArtifactLinks(t *testing.T) {
	testCases := []struct {
		name        string
		source      string
		contains    []string
		expectError bool
	}{
		{
			name:     "bundle link",
			source:   "Updates [[api-1.1.0.jar]] only.",
			contains: []string{`<span class="artifact" data-filename="api-1.1.0.jar">api 1.1.0</span>`, "Updates ", " only."},
		},
		{
			name:     "description",
			source:   "See [[ v1 | Site config ]].",
			contains: []string{`<span class="artifact" data-filename="v1">Site config</span>`},
		},
		{
			name:     "resource without symbolic name",
			source:   "[[v1]]",
			contains: []string{`data-filename="v1">v1</span>`},
		},
		{
			name:   "all artifacts",
			source: "## Content\n\n[[ARTIFACTS]]\n",
			contains: []string{
				`<ul class="artifacts"><li><span class="artifact" data-filename="api-1.1.0.jar">api 1.1.0</span></li>`,
				`<li><span class="artifact" data-filename="v1">v1</span></li></ul>`,
			},
		},
		{
			name:     "plain links are untouched",
			source:   "[docs](http://example.com)",
			contains: []string{`<a href="http://example.com">docs</a>`},
		},
		{
			name:        "unknown artifact",
			source:      "[[missing.jar]]",
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			html, err := render(t, tc.source, artifacts)
			if tc.expectError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			for _, s := range tc.contains {
				require.Contains(t, html, s)
			}
		})
	}
}

func TestArtifactLinkEscapesLabel(t *testing.T) {
	r := ListResolver{{URL: "x.jar", Filename: "x.jar", SymbolicName: "<b>x</b>", Version: "1.0.0"}}

	html, err := render(t, "[[x.jar]]", r)
	require.NoError(t, err)
	require.Contains(t, html, "&lt;b&gt;x&lt;/b&gt; 1.0.0")
}

func TestListResolver(t *testing.T) {
	a, ok := artifacts.Artifact("v1")
	require.True(t, ok)
	require.Equal(t, "rp.pid", a.ProcessorPID)

	_, ok = artifacts.Artifact("nope")
	require.False(t, ok)
	require.Len(t, artifacts.Artifacts(), 2)

	var empty ListResolver
	require.Empty(t, empty.Artifacts())
	_, ok = empty.Artifact("v1")
	require.False(t, ok)
}
