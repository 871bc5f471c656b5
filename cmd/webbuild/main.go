package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/wolfeidau/webbuild/cmd/webbuild/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Build       commands.BuildCmd       `cmd:"" help:"Build assets"`
		Validate    commands.ValidateCmd    `cmd:"" help:"Validate the build descriptor"`
		PrintConfig commands.PrintConfigCmd `cmd:"" help:"Print the effective build descriptor"`
		Serve       commands.ServeCmd       `cmd:"" help:"Serve built assets and pages"`
		Debug       bool                    `help:"Enable debug mode." env:"WEBBUILD_DEBUG"`
		Version     kong.VersionFlag
	}
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("webbuild"),
		kong.Description("Bundle front-end assets and hand their hashed names to server templates."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
