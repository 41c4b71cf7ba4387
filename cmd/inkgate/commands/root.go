package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/inkverse/inkgate/internal/app"
	"github.com/inkverse/inkgate/internal/observability"
	"github.com/urfave/cli/v3"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "inkgate",
		Usage: "SplatNet 3 credential gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			serverStartCommand(),
			loginCommand(),
			statusCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func serverStartCommand() *cli.Command {
	return &cli.Command{
		Name: "start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "credential storage (file|env|keyring)",
				Value: string(app.DefaultConfigAuthStorage),
			},
		},
		Action: serverStartAction,
	}
}

func serverStartAction(ctx context.Context, cmd *cli.Command) error {
	application, shutdownLogs, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer shutdownLogs()

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// buildApp loads configuration, installs the logging pipeline, and
// constructs the application. The returned function flushes buffered logs.
func buildApp(cmd *cli.Command) (*app.App, func(), error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat), cfg.LogExporter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	flush := func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "log shutdown: %v\n", err)
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		flush()
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, flush, nil
}
