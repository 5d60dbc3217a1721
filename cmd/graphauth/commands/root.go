package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/graphauth/internal/app"
	"github.com/florianilch/graphauth/internal/observability"
)

// dotEnvFile is loaded from the working directory before configuration.
const dotEnvFile = ".env"

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand().Run(ctx, args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "graphauth",
		Usage: "Microsoft Graph sign-in with an encrypted token cache",
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
			&cli.StringFlag{
				Name:  "auth--client-id",
				Usage: "application (client) ID registered in Microsoft Entra ID",
			},
			&cli.StringFlag{
				Name:  "auth--interactive",
				Usage: "browser sign-in (auto|always|never)",
				Value: string(app.DefaultConfigAuthInteractive),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			accountsCommand(),
			meCommand(),
			searchCommand(),
			serveCommand(),
		},
	}
}

// setup loads configuration and installs logging. The returned function
// flushes the log pipeline and must be called before exit.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(), error) {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("loading %s: %w", dotEnvFile, err)
	}

	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, cfg.ObservabilityOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, func() {
		// flush even when ctx was cancelled by a signal
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(os.Stderr, "flushing logs:", err)
		}
	}, nil
}

// withIdentity runs fn with the sign-in stack while the calling goroutine
// pumps engine notifications.
func withIdentity(ctx context.Context, cmd *cli.Command, fn func(ctx context.Context, cfg *app.Config, id *app.Identity) error) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer shutdown()

	id, err := app.NewIdentity(ctx, cfg)
	if err != nil {
		return err
	}

	return id.Queue.Host(ctx, cfg.Dispatch.Interval, func(ctx context.Context) error {
		return fn(ctx, cfg, id)
	})
}
