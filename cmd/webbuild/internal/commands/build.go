package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfeidau/webbuild/internal/assets"
	"github.com/wolfeidau/webbuild/internal/logger"
)

type BuildCmd struct {
	DescriptorFlags `embed:""`

	Watch   bool `help:"rebuild when sources change" default:"false" env:"WEBBUILD_WATCH"`
	Quiet   bool `help:"do not print the build report" default:"false"`
	Tracing bool `help:"enable tracing" default:"false" env:"WEBBUILD_TRACING"`
}

func (b *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	defer setupTelemetry(ctx, log, b.Tracing, globals.Version)()

	d, err := b.load(log)
	if err != nil {
		return err
	}
	p, err := newPipeline(d)
	if err != nil {
		return err
	}

	if !b.Watch {
		out, err := p.Build(ctx)
		if err != nil {
			return err
		}
		if !b.Quiet {
			printReport(os.Stdout, out)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("context", d.Context).Msg("Watching for changes")
	return p.Watch(ctx, func(out *assets.Output, err error) {
		if err != nil {
			log.Error().Err(err).Msg("Build failed")
			return
		}
		if !b.Quiet {
			printReport(os.Stdout, out)
		}
	})
}
