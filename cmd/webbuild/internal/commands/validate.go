package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wolfeidau/webbuild/internal/logger"
	"github.com/wolfeidau/webbuild/internal/manifest"
)

type ValidateCmd struct {
	DescriptorFlags `embed:""`

	Manifest bool `help:"also verify the manifest of the last build against the files on disk" default:"false"`
}

func (v *ValidateCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	d, err := v.load(log)
	if err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}

	fingerprint, err := d.Fingerprint()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "descriptor ok, fingerprint %s\n", fingerprint)

	if !v.Manifest {
		return nil
	}

	path, ok, err := d.ManifestPath()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no manifest plugin configured")
	}

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	if err := manifest.Verify(m, d.Entry.Names()); err != nil {
		return err
	}
	if m.Fingerprint != fingerprint {
		log.Warn().Str("manifest", m.Fingerprint).Str("descriptor", fingerprint).
			Msg("Manifest was built from a different descriptor")
	}
	fmt.Fprintf(os.Stdout, "manifest ok, %d entries\n", len(m.Chunks))
	return nil
}

type PrintConfigCmd struct {
	DescriptorFlags `embed:""`
}

func (c *PrintConfigCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	d, err := c.load(log)
	if err != nil {
		return err
	}
	data, err := d.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
