// cmd/inventory/main.go
package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("inventory"),
		kong.Description("Library book inventory service."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli.Globals); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
