package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/graphauth/internal/app"
	"github.com/florianilch/graphauth/internal/auth"
	"github.com/florianilch/graphauth/internal/graph"
)

func meCommand() *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "show the signed-in user's profile",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			out := cmd.Root().Writer
			return withIdentity(ctx, cmd, func(ctx context.Context, cfg *app.Config, id *app.Identity) error {
				unsubscribe := id.Engine.Subscribe(auth.Deferred(id.Queue, progressPrinter(out, false)))
				defer unsubscribe()

				user, err := id.GraphClient(cfg.Graph).Me(ctx)
				if err != nil {
					return err
				}

				table := newTable(out, "Field", "Value")
				table.Append([]string{"Display name", user.DisplayName})
				table.Append([]string{"User principal name", user.UserPrincipalName})
				table.Append([]string{"Mail", user.Mail})
				table.Append([]string{"ID", user.ID})
				table.Render()
				return nil
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search the signed-in user's OneDrive",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum number of results",
				Value: graph.DefaultSearchLimit,
			},
		},
		Action: searchAction,
	}
}

func searchAction(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("missing search query")
	}
	out := cmd.Root().Writer

	return withIdentity(ctx, cmd, func(ctx context.Context, cfg *app.Config, id *app.Identity) error {
		unsubscribe := id.Engine.Subscribe(auth.Deferred(id.Queue, progressPrinter(out, false)))
		defer unsubscribe()

		items, err := id.GraphClient(cfg.Graph).SearchDrive(ctx, query, int(cmd.Int("limit")))
		if len(items) > 0 {
			renderDriveItems(out, items)
		}
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(out, "No matching items.")
		}
		return nil
	})
}
