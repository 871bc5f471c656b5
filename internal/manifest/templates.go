package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Loader serves a manifest from disk, re-reading it whenever the file changes
// so a running server picks up rebuilds.
type Loader struct {
	path     string
	mu       sync.RWMutex
	manifest *Manifest
	modTime  time.Time
	size     int64
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Get returns the current manifest.
func (l *Loader) Get() (*Manifest, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	m := l.manifest
	fresh := m != nil && info.ModTime().Equal(l.modTime) && info.Size() == l.size
	l.mu.RUnlock()
	if fresh {
		return m, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err = Load(l.path)
	if err != nil {
		return nil, err
	}
	l.manifest, l.modTime, l.size = m, info.ModTime(), info.Size()
	log.Debug().Str("path", l.path).Str("fingerprint", m.Fingerprint).Msg("Loaded manifest")
	return m, nil
}

// URLs returns the public URLs of an entry's files with the given extension.
func (l *Loader) URLs(entry, ext string) ([]string, error) {
	m, err := l.Get()
	if err != nil {
		return nil, err
	}
	files, err := m.Bundle(entry, ext)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(files))
	for i, f := range files {
		urls[i] = f.PublicPath
	}
	return urls, nil
}

// RenderBundle renders the script and link tags for an entry. With an
// extension only that kind of tag is rendered.
func (l *Loader) RenderBundle(entry string, ext ...string) (template.HTML, error) {
	want := ""
	if len(ext) > 0 {
		want = ext[0]
	}
	m, err := l.Get()
	if err != nil {
		return "", err
	}
	files, err := m.Bundle(entry, want)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, f := range files {
		switch f.Ext() {
		case "js":
			fmt.Fprintf(&b, `<script src="%s"></script>`+"\n", template.HTMLEscapeString(f.PublicPath))
		case "css":
			fmt.Fprintf(&b, `<link rel="stylesheet" href="%s">`+"\n", template.HTMLEscapeString(f.PublicPath))
		}
	}
	return template.HTML(b.String()), nil //nolint:gosec
}

// Funcs returns the template functions exposing the manifest to pages:
// render_bundle, bundle_urls, marshal and safe.
func (l *Loader) Funcs() template.FuncMap {
	return template.FuncMap{
		"render_bundle": l.RenderBundle,
		"bundle_urls":   l.URLs,
		"marshal":       marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}
}

// Templates parses every *.html file in dir with the manifest functions and
// any custom functions merged in.
func (l *Loader) Templates(dir string, customFuncs template.FuncMap) (*template.Template, error) {
	funcs := l.Funcs()
	maps.Copy(funcs, customFuncs)

	return template.New(dir).Funcs(funcs).ParseGlob(dir + "/*.html")
}

// Handler renders a page template for an entry. The template receives Title,
// Scripts, Styles and Context.
func (l *Loader) Handler(tmpl *template.Template, templateName, title, entry string, contextFn func(ctx context.Context) any) (http.HandlerFunc, error) {
	if tmpl == nil {
		return nil, errors.New("template not loaded, use Templates first")
	}
	if tmpl.Lookup(templateName) == nil {
		return nil, fmt.Errorf("template %q not found", templateName)
	}

	if contextFn == nil {
		contextFn = func(ctx context.Context) any {
			return nil
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		scripts, err := l.URLs(entry, "js")
		if err != nil {
			log.Error().Err(err).Str("entry", entry).Msg("Failed to load scripts")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		styles, err := l.URLs(entry, "css")
		if err != nil {
			log.Error().Err(err).Str("entry", entry).Msg("Failed to load styles")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		data := map[string]any{
			"Title":   title,
			"Entry":   entry,
			"Scripts": scripts,
			"Styles":  styles,
			"Context": contextFn(r.Context()),
		}

		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, templateName, data); err != nil {
			log.Error().Err(err).Msg("Failed to render template")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = buf.WriteTo(w)
	}, nil
}

func marshal(value any) string {
	buf := new(bytes.Buffer)

	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("context can only be json serializable"))
	}

	return buf.String()
}
