package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/JoseArbillaga/afip/cmd/cli/internal/commands"
	"github.com/JoseArbillaga/afip/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Ticket     commands.TicketCmd     `cmd:"" help:"Acquire an access ticket for one service"`
		Tickets    commands.TicketsCmd    `cmd:"" help:"Acquire access tickets for the enabled services"`
		Probe      commands.ProbeCmd      `cmd:"" help:"Check connectivity with the WSAA gateway"`
		Inspect    commands.InspectCmd    `cmd:"" help:"Show certificate details"`
		Invalidate commands.InvalidateCmd `cmd:"" help:"Evict cached tickets"`
		Debug      bool                   `help:"Enable debug mode."`
		Version    kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	logger.Setup(cli.Debug)
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
