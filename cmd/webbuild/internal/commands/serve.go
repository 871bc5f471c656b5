package commands

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/webbuild/internal/assets"
	httpmiddleware "github.com/wolfeidau/webbuild/internal/http"
	"github.com/wolfeidau/webbuild/internal/logger"
	"github.com/wolfeidau/webbuild/internal/manifest"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const defaultPage = `{{define "index.html"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{render_bundle .Entry "css"}}
</head>
<body>
<div id="app"></div>
{{render_bundle .Entry "js"}}
{{livereload}}
</body>
</html>
{{end}}`

type ServeCmd struct {
	DescriptorFlags `embed:""`

	Listen      string   `help:"HTTP listen address" default:"localhost:8000" env:"WEBBUILD_LISTEN"`
	Prefix      string   `help:"URL prefix the output directory is served under" default:"/static/" env:"WEBBUILD_PREFIX"`
	Templates   string   `help:"directory of page templates (*.html), defaults to a built in page" default:"" env:"WEBBUILD_TEMPLATES" type:"path"`
	Page        string   `help:"page template rendered at /" default:"index.html"`
	Entry       string   `help:"entry rendered into the page" default:"main"`
	Title       string   `help:"page title" default:"webbuild"`
	CORSOrigins []string `help:"origins allowed to fetch assets" default:"*" env:"WEBBUILD_CORS_ORIGINS"`
	Watch       bool     `help:"rebuild on change and live reload pages" default:"false" env:"WEBBUILD_WATCH"`
	Tracing     bool     `help:"enable tracing" default:"false" env:"WEBBUILD_TRACING"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	defer setupTelemetry(ctx, log, s.Tracing, globals.Version)()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := s.load(log)
	if err != nil {
		return err
	}
	prefix := "/" + strings.Trim(s.Prefix, "/") + "/"
	if d.Output.PublicPath == "" {
		d.Output.PublicPath = prefix
	}

	manifestPath, ok, err := d.ManifestPath()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("serve requires the manifest plugin")
	}

	hub := newReloadHub()
	handler, err := s.handler(d, manifestPath, hub)
	if err != nil {
		return err
	}
	handler = logger.Requests(log)(handler)
	handler = httpmiddleware.ClientIPMiddleware()(handler)
	handler = h2c.NewHandler(handler, &http2.Server{})

	errs := make(chan error, 2)

	if s.Watch {
		p, err := newPipeline(d)
		if err != nil {
			return err
		}
		go func() {
			errs <- p.Watch(ctx, func(out *assets.Output, err error) {
				if err != nil {
					log.Error().Err(err).Msg("Build failed")
					hub.broadcast(reloadMessage{Type: "error", Error: err.Error()})
					return
				}
				log.Info().Int("clients", hub.count()).Msg("Reloading pages")
				hub.broadcast(reloadMessage{Type: "reload", Fingerprint: out.Fingerprint})
			})
		}()
	} else if m, err := manifest.Load(manifestPath); err == nil && m.PublicPath != prefix {
		log.Warn().Str("manifest", m.PublicPath).Str("prefix", prefix).Msg("Manifest public path does not match the serve prefix")
	}

	srv := configureHTTPServer(s.Listen, handler)
	go func() {
		log.Info().Str("addr", s.Listen).Str("prefix", prefix).Str("dir", d.OutputDir()).Bool("watch", s.Watch).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handler serves the output directory under the prefix, the page at / and
// the live reload socket.
func (s *ServeCmd) handler(d assets.Descriptor, manifestPath string, hub *reloadHub) (http.Handler, error) {
	prefix := d.Output.PublicPath
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + strings.Trim(s.Prefix, "/") + "/"
	}

	loader := manifest.NewLoader(manifestPath)
	funcs := template.FuncMap{
		"livereload": func() template.HTML {
			if !s.Watch {
				return ""
			}
			return template.HTML(reloadScript) //nolint:gosec
		},
	}

	var (
		tmpl *template.Template
		err  error
	)
	if s.Templates != "" {
		tmpl, err = loader.Templates(s.Templates, funcs)
	} else {
		tmpl, err = template.New("page").Funcs(loader.Funcs()).Funcs(funcs).Parse(defaultPage)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	page, err := loader.Handler(tmpl, s.Page, s.Title, s.Entry, nil)
	if err != nil {
		return nil, err
	}

	files := http.StripPrefix(prefix, http.FileServer(http.Dir(d.OutputDir())))

	mux := http.NewServeMux()
	mux.Handle(prefix, httpmiddleware.WithCORS(s.CORSOrigins, httpmiddleware.ImmutableAssets(files)))
	mux.Handle("/_livereload", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := loader.Get(); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Manifest unavailable")
			http.Error(w, "manifest unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/{$}", page)

	return mux, nil
}
