package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/webbuild/internal/assets"
	"github.com/wolfeidau/webbuild/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Version string
}

// DescriptorFlags locate the build descriptor and override parts of it.
type DescriptorFlags struct {
	Config  string `help:"path to the build descriptor" default:"webbuild.yaml" env:"WEBBUILD_CONFIG" type:"path"`
	Mode    string `help:"override the build mode" default:"" env:"WEBBUILD_MODE"`
	Devtool string `help:"override the source map mode" default:"" env:"WEBBUILD_DEVTOOL"`
}

// load reads the descriptor. When the default descriptor file does not exist
// the stock configuration rooted at the working directory is used.
func (f *DescriptorFlags) load(log zerolog.Logger) (assets.Descriptor, error) {
	var (
		d   assets.Descriptor
		err error
	)

	_, statErr := os.Stat(f.Config)
	switch {
	case statErr == nil:
		d, err = assets.LoadDescriptor(f.Config)
		if err != nil {
			return assets.Descriptor{}, err
		}
		log.Debug().Str("config", f.Config).Msg("Loaded descriptor")
	case errors.Is(statErr, os.ErrNotExist):
		wd, err := os.Getwd()
		if err != nil {
			return assets.Descriptor{}, err
		}
		log.Debug().Str("config", f.Config).Msg("Descriptor not found, using defaults")
		d = assets.DefaultDescriptor(wd)
	default:
		return assets.Descriptor{}, statErr
	}

	if f.Mode != "" {
		d.Mode = f.Mode
	}
	if f.Devtool != "" {
		d.Devtool = f.Devtool
	}
	return d, nil
}

// setupTelemetry starts the exporters when tracing is enabled. The returned
// function must be called before exit to flush them.
func setupTelemetry(ctx context.Context, log zerolog.Logger, enabled bool, version string) func() {
	if !enabled {
		return func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, "webbuild", version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

func newPipeline(d assets.Descriptor) (*assets.Pipeline, error) {
	p, err := assets.New(d)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}
