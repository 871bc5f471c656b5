package manifest

import (
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	m := writeBuild(t, dir, map[string]string{"app-1.js": "js", "styles-2.css": "css"})
	path := filepath.Join(dir, "webpack-stats.json")
	require.NoError(t, Write(path, m))
	return NewLoader(path), path
}

func TestLoader_RenderBundle(t *testing.T) {
	l, _ := newLoader(t)

	html, err := l.RenderBundle("main")
	require.NoError(t, err)
	require.Equal(t, template.HTML(
		`<script src="/static/app-1.js"></script>`+"\n"+
			`<link rel="stylesheet" href="/static/styles-2.css">`+"\n"), html)

	html, err = l.RenderBundle("main", "css")
	require.NoError(t, err)
	require.Equal(t, template.HTML(`<link rel="stylesheet" href="/static/styles-2.css">`+"\n"), html)

	_, err = l.RenderBundle("admin")
	require.ErrorIs(t, err, ErrUnknownEntry)
}

func TestLoader_reloadsOnChange(t *testing.T) {
	l, path := newLoader(t)

	m, err := l.Get()
	require.NoError(t, err)
	require.Equal(t, "abc123", m.Fingerprint)

	again, err := l.Get()
	require.NoError(t, err)
	require.Same(t, m, again)

	next := New("def456", "/static/")
	next.AddChunk("main", File{Name: "app-3.js", PublicPath: "/static/app-3.js"})
	require.NoError(t, Write(path, next))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	urls, err := l.URLs("main", "js")
	require.NoError(t, err)
	require.Equal(t, []string{"/static/app-3.js"}, urls)
}

func TestLoader_missingManifest(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
	_, err := l.Get()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_Templates(t *testing.T) {
	l, _ := newLoader(t)

	dir := t.TempDir()
	page := `<html><head>{{ render_bundle "main" "css" }}</head>` +
		`<body>{{ range bundle_urls "main" "js" }}{{ . }}{{ end }}{{ shout "hi" }}</body></html>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0o600))

	tmpl, err := l.Templates(dir, template.FuncMap{
		"shout": func(s string) string { return s + "!" },
	})
	require.NoError(t, err)

	h, err := l.Handler(tmpl, "index.html", "Privacy", "main", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, `<html><head><link rel="stylesheet" href="/static/styles-2.css">`+"\n"+
		`</head><body>/static/app-1.jshi!</body></html>`, rec.Body.String())
}

func TestLoader_Handler(t *testing.T) {
	l, path := newLoader(t)

	tmpl := template.Must(template.New("page").Funcs(l.Funcs()).Parse(
		`{{ .Title }}|{{ range .Scripts }}{{ . }}{{ end }}|{{ range .Styles }}{{ . }}{{ end }}|{{ marshal .Context }}`))

	_, err := l.Handler(nil, "page", "t", "main", nil)
	require.Error(t, err)
	_, err = l.Handler(tmpl, "other", "t", "main", nil)
	require.ErrorContains(t, err, `template "other" not found`)

	h, err := l.Handler(tmpl, "page", "Privacy", "main", func(ctx context.Context) any {
		return map[string]string{"user": "a"}
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Privacy|/static/app-1.js|/static/styles-2.css|{&#34;user&#34;:&#34;a&#34;}\n", rec.Body.String())

	// An unreadable manifest is a server error, not a broken page.
	require.NoError(t, os.Remove(path))
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
