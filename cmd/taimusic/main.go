// Package main is the entry point for the taimusic player host.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tasselx/taimusic/internal/config"
	"github.com/tasselx/taimusic/internal/version"
)

func main() {
	if err := newApp(os.Stdout).command().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Application error")
	}
}

// app holds state shared by all subcommands.
type app struct {
	out io.Writer
	cfg *config.Config
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:    version.Name,
		Usage:   "Headless music player with a persistent audio cache",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file with TAIMUSIC_* overrides",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: a.setup,
		Action: a.serve,
		Commands: []*cli.Command{
			serveCommand(a),
			cacheCommand(a),
			initCommand(a),
			versionCommand(a),
		},
	}
}

// setup loads configuration and configures logging before any command runs.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := config.LoadEnv(cmd.String("env-file")); err != nil {
		return ctx, err
	}
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	a.cfg = cfg

	setupLogging(cfg.Logging, cmd.Bool("debug"))
	return ctx, nil
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LoggingConfig, debug bool) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		zerolog.TimeFieldFormat = time.RFC3339
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func serveCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the player host (default)",
		Action: a.serve,
	}
}

func initCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default configuration file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if err := config.CreateConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created default configuration file at: %s\n", path)
			return nil
		},
	}
}

func versionCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.GetInfo()
			fmt.Fprintln(a.out, info.String())
			fmt.Fprintf(a.out, "  go:       %s\n", info.GoVersion)
			fmt.Fprintf(a.out, "  platform: %s\n", info.Platform)
			return nil
		},
	}
}
