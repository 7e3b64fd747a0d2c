// Command emotionsim runs the simulation engine's Control API server, or
// validates a scenario file without starting one.
//
// Usage:
//
//	emotionsim serve --scenario scenario.yaml
//	emotionsim validate --scenario scenario.yaml
//	emotionsim version
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/emotionsim/engine/internal/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the Control API server for a scenario."`
	Validate ValidateCmd `cmd:"" help:"Validate a scenario file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	_ = config.LoadDotEnv(".env")

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("emotionsim"),
		kong.Description("Multi-agent social simulation engine"),
		kong.UsageOnError(),
	)

	if err := initLogger(cli.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
