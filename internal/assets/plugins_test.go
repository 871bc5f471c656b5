package assets

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOutput() *Output {
	js := &File{Path: "/p/build/app-AAAA.js", Contents: []byte("console.log(1);\n"), Kind: KindChunk}
	css := &File{Path: "/p/build/app-BBBB.css", Contents: []byte("a{}\n/*# sourceMappingURL=app-BBBB.css.map */\n"), Kind: KindChunk}
	sm := &File{Path: "/p/build/app-BBBB.css.map", Contents: []byte("{}"), Kind: KindSourceMap}
	logo := &File{Path: "/p/build/logo-CCCC.png", Contents: []byte("png"), Kind: KindAsset, Source: "src/logo.png"}

	return &Output{
		Context:     "/p",
		Dir:         "/p/build",
		PublicPath:  "/static/",
		Fingerprint: "fp",
		Entries:     EntryPoints{{Name: "main", Path: "./src/main.js"}},
		Files:       []*File{js, css, sm, logo},
		Chunks:      map[string][]*File{"main": {js, css}},
	}
}

func TestPluginNames(t *testing.T) {
	require.Equal(t, []string{"command", "compress", "extract-styles", "manifest", "vue", "vuetify"}, PluginNames())
}

func TestNewPlugin_options(t *testing.T) {
	tests := []struct {
		spec    PluginSpec
		wantErr string
	}{
		{spec: PluginSpec{Name: "vue", Options: map[string]any{"x": 1}}, wantErr: "field x not found"},
		{spec: PluginSpec{Name: "vuetify", Options: map[string]any{"prefix": ""}}, wantErr: "must not be empty"},
		{spec: PluginSpec{Name: "extract-styles", Options: map[string]any{"filename": "styles.css"}}, wantErr: "must contain [hash]"},
		{spec: PluginSpec{Name: "manifest", Options: map[string]any{"filename": ""}}, wantErr: "must not be empty"},
		{spec: PluginSpec{Name: "compress", Options: map[string]any{"formats": []any{"brotli"}}}, wantErr: `unknown format "brotli"`},
		{spec: PluginSpec{Name: "command"}, wantErr: "command is required"},
	}

	for _, tt := range tests {
		t.Run(tt.spec.Name, func(t *testing.T) {
			_, err := newPlugin(tt.spec)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExtractPlugin_Apply(t *testing.T) {
	p, err := newExtractPlugin(map[string]any{"filename": "privacy_styles-[hash].css"})
	require.NoError(t, err)

	out := testOutput()
	css := out.Chunks["main"][1]
	require.NoError(t, p.(outputPlugin).Apply(context.Background(), out))

	want := "privacy_styles-" + ContentHash([]byte("a{}\n/*# sourceMappingURL=app-BBBB.css.map */\n")) + ".css"
	assert.Equal(t, "/p/build/"+want, css.Path)
	assert.Contains(t, string(css.Contents), "sourceMappingURL="+want+".map")
	assert.NotNil(t, out.Lookup("/p/build/"+want+".map"))
	assert.Nil(t, out.Lookup("/p/build/app-BBBB.css.map"))

	// Scripts are untouched.
	assert.Equal(t, "/p/build/app-AAAA.js", out.Chunks["main"][0].Path)
}

func TestExtractPlugin_collision(t *testing.T) {
	p, err := newExtractPlugin(map[string]any{"filename": "[name]-[hash].css"})
	require.NoError(t, err)

	out := testOutput()
	css := out.Chunks["main"][1]
	taken := "/p/build/main-" + ContentHash(css.Contents) + ".css"
	out.Add(&File{Path: taken, Kind: KindAsset})

	err = p.(outputPlugin).Apply(context.Background(), out)
	require.ErrorContains(t, err, "would overwrite another output")
}

func TestCompressPlugin_Apply(t *testing.T) {
	p, err := newCompressPlugin(map[string]any{"minBytes": 1})
	require.NoError(t, err)

	out := testOutput()
	require.NoError(t, p.(outputPlugin).Apply(context.Background(), out))

	// The script and stylesheet are compressed, the map and the png are not.
	require.Len(t, out.Files, 8)

	gz := out.Lookup("/p/build/app-AAAA.js.gz")
	require.NotNil(t, gz)
	require.Equal(t, KindDerived, gz.Kind)
	r, err := gzip.NewReader(bytes.NewReader(gz.Contents))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "console.log(1);\n", string(plain))

	zst := out.Lookup("/p/build/app-AAAA.js.zst")
	require.NotNil(t, zst)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err = dec.DecodeAll(zst.Contents, nil)
	require.NoError(t, err)
	require.Equal(t, "console.log(1);\n", string(plain))

	require.Nil(t, out.Lookup("/p/build/app-BBBB.css.map.gz"))
	require.Nil(t, out.Lookup("/p/build/logo-CCCC.png.gz"))
}

func TestCompressPlugin_minBytes(t *testing.T) {
	p, err := newCompressPlugin(nil)
	require.NoError(t, err)

	out := testOutput()
	require.NoError(t, p.(outputPlugin).Apply(context.Background(), out))
	require.Len(t, out.Files, 4)
}

func TestBuildManifest(t *testing.T) {
	m := BuildManifest(testOutput(), "")

	require.Equal(t, "fp", m.Fingerprint)
	require.Equal(t, "/static/", m.PublicPath)
	require.Len(t, m.Chunks["main"], 2)
	require.Equal(t, "app-AAAA.js", m.Chunks["main"][0].Name)
	require.Equal(t, "/static/app-AAAA.js", m.Chunks["main"][0].PublicPath)
	require.Equal(t, int64(16), m.Chunks["main"][0].Size)
	require.Equal(t, "/static/logo-CCCC.png", m.Assets["src/logo.png"].PublicPath)
}

func TestBuildManifest_publicPathOverride(t *testing.T) {
	out := testOutput()
	out.PublicPath = ""

	m := BuildManifest(out, "https://cdn.example.com/assets/")

	require.Equal(t, "https://cdn.example.com/assets/", m.PublicPath)
	require.Equal(t, "https://cdn.example.com/assets/app-AAAA.js", m.Chunks["main"][0].PublicPath)
	require.Equal(t, "https://cdn.example.com/assets/app-BBBB.css", m.Chunks["main"][1].PublicPath)
	require.Equal(t, "https://cdn.example.com/assets/logo-CCCC.png", m.Assets["src/logo.png"].PublicPath)
}

func TestManifestPlugin_Path(t *testing.T) {
	p, err := newManifestPlugin(map[string]any{"filename": "./webpack-stats.json"})
	require.NoError(t, err)
	require.Equal(t, "/p/webpack-stats.json", p.(*manifestPlugin).Path(testOutput()))

	p, err = newManifestPlugin(map[string]any{"filename": "/srv/stats.json"})
	require.NoError(t, err)
	require.Equal(t, "/srv/stats.json", p.(*manifestPlugin).Path(testOutput()))

	path, ok, err := DefaultDescriptor("/p").ManifestPath()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/p/webpack-stats.json", path)
}
