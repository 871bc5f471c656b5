package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	consolestream "github.com/wolfeidau/console-stream"
)

// commandPlugin runs a hook once the build is on disk, e.g. to collect the
// static files into a web framework. The command sees the output directory and
// the build fingerprint and ID in its environment.
type commandPlugin struct {
	command string
	args    []string
	env     map[string]string
	retries uint
}

type commandOptions struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Retries uint              `yaml:"retries"`
}

func newCommandPlugin(opts map[string]any) (Plugin, error) {
	var o commandOptions
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Command == "" {
		return nil, errors.New("command is required")
	}
	return &commandPlugin{command: o.Command, args: o.Args, env: o.Env, retries: o.Retries}, nil
}

func (p *commandPlugin) Name() string { return "command" }

func (p *commandPlugin) AfterWrite(ctx context.Context, out *Output) error {
	env := map[string]string{
		"WEBBUILD_OUTPUT_DIR":  out.Dir,
		"WEBBUILD_CONTEXT":     out.Context,
		"WEBBUILD_FINGERPRINT": out.Fingerprint,
		"WEBBUILD_BUILD_ID":    out.ID,
	}
	for k, v := range p.env {
		env[k] = v
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := p.run(ctx, env)
		if err != nil {
			log.Warn().Err(err).Str("command", p.command).Int("attempt", attempt).Msg("Build hook failed")
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.retries+1),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("command %s: %w", p.command, err)
	}
	return nil
}

func (p *commandPlugin) run(ctx context.Context, env map[string]string) error {
	process := consolestream.NewProcess(p.command, p.args,
		consolestream.WithPipeMode(),
		consolestream.WithFlushInterval(100*time.Millisecond),
		consolestream.WithEnvMap(env),
	)

	for event, err := range process.ExecuteAndStream(ctx) {
		if err != nil {
			return err
		}

		switch e := event.Event.(type) {
		case *consolestream.OutputData:
			for _, line := range bytes.Split(bytes.TrimRight(e.Data, "\n"), []byte("\n")) {
				log.Info().Str("command", p.command).Msg(string(line))
			}
		case *consolestream.ProcessEnd:
			if e.ExitCode != 0 {
				return fmt.Errorf("exited with code %d", e.ExitCode)
			}
			return nil
		}
	}

	return errors.New("command ended without an exit status")
}
