package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/queryjobs/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Submit   commands.SubmitCmd   `cmd:"" help:"Register a job row"`
		Get      commands.GetCmd      `cmd:"" help:"Show a single job"`
		List     commands.ListCmd     `cmd:"" help:"List jobs"`
		Await    commands.AwaitCmd    `cmd:"" help:"Wait for a job's result"`
		Complete commands.CompleteCmd `cmd:"" help:"Store a job's result"`
		Debug    bool                 `help:"Enable debug mode."`
		Version  kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
