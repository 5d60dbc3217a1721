package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/browser"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/graphauth/internal/app"
	"github.com/florianilch/graphauth/internal/auth"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in, reusing the cached account when possible",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "always start a new interactive sign-in",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "open the device code verification page in the browser",
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	return withIdentity(ctx, cmd, func(ctx context.Context, _ *app.Config, id *app.Identity) error {
		unsubscribe := id.Engine.Subscribe(auth.Deferred(id.Queue, progressPrinter(out, cmd.Bool("open"))))
		defer unsubscribe()

		if cmd.Bool("force") {
			if err := id.Engine.ForceInteractiveSignIn(ctx); err != nil {
				return err
			}
		} else if _, err := id.Engine.AcquireTokenForCurrentUser(ctx); err != nil {
			return err
		}

		if account, ok := id.Engine.PrimaryAccount(ctx); ok {
			fmt.Fprintf(out, "Signed in as %s\n", account.Username)
		}
		return nil
	})
}

// progressPrinter reports sign-in progress. It runs on the host goroutine.
func progressPrinter(out io.Writer, openBrowser bool) auth.Observer {
	return auth.ObserverFuncs{
		StateChanged: func(state auth.State) {
			switch state {
			case auth.StateStartedInteractive:
				fmt.Fprintln(out, "Starting sign-in...")
			case auth.StateFallbackToDeviceCode:
				fmt.Fprintln(out, "Browser sign-in unavailable, using a device code.")
			case auth.StateFailed:
				fmt.Fprintln(out, "Sign-in failed.")
			}
		},
		DeviceCode: func(prompt auth.DeviceCodePrompt) {
			if prompt.Message != "" {
				fmt.Fprintln(out, prompt.Message)
			} else {
				fmt.Fprintf(out, "To sign in, open %s and enter the code %s\n", prompt.VerificationURL, prompt.UserCode)
			}
			if !prompt.ExpiresOn.IsZero() {
				fmt.Fprintf(out, "The code expires at %s.\n", prompt.ExpiresOn.Local().Format(time.Kitchen))
			}
			if openBrowser {
				if err := browser.OpenURL(prompt.VerificationURL); err != nil {
					fmt.Fprintf(out, "Could not open the browser: %v\n", err)
				}
			}
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "remove every cached account",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withIdentity(ctx, cmd, func(ctx context.Context, _ *app.Config, id *app.Identity) error {
				if err := id.Engine.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.Root().Writer, "Signed out.")
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the cached account and token validity without prompting",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "claims",
				Usage: "also show the access token claims",
			},
		},
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	return withIdentity(ctx, cmd, func(ctx context.Context, cfg *app.Config, id *app.Identity) error {
		table := newTable(out, "Field", "Value")
		table.Append([]string{"Token cache", id.Cache.Path()})
		table.Append([]string{"Scopes", strings.Join(cfg.Auth.Scopes, " ")})

		account, ok := id.Engine.PrimaryAccount(ctx)
		if !ok {
			table.Append([]string{"Account", "(none, run login)"})
			table.Render()
			return nil
		}
		table.Append([]string{"Account", account.Username})

		record, err := id.Engine.AcquireTokenSilently(ctx, account)
		switch {
		case errors.Is(err, auth.ErrSilentRefreshUnavailable):
			table.Append([]string{"Connected", "no (sign-in required)"})
		case err != nil:
			return err
		default:
			table.Append([]string{"Connected", "yes"})
			table.Append([]string{"Expires", record.ExpiresOn.Local().Format(time.RFC1123)})
		}

		if cmd.Bool("claims") && record.AccessToken != "" {
			appendClaims(table.Append, record.AccessToken)
		}
		table.Render()
		return nil
	})
}

func appendClaims(appendRow func([]string), accessToken string) {
	claims, err := auth.InspectClaims(accessToken)
	if err != nil {
		appendRow([]string{"Claims", "(opaque token)"})
		return
	}
	appendRow([]string{"Subject", claims.Subject})
	appendRow([]string{"Name", claims.Name})
	appendRow([]string{"Username", claims.Username})
	appendRow([]string{"Issuer", claims.Issuer})
	appendRow([]string{"Audience", strings.Join(claims.Audience, " ")})
	appendRow([]string{"Granted scopes", strings.Join(claims.Scopes, " ")})
}

func accountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "list the accounts in the token cache",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withIdentity(ctx, cmd, func(ctx context.Context, _ *app.Config, id *app.Identity) error {
				accounts, err := id.Engine.Accounts(ctx)
				if err != nil {
					return fmt.Errorf("listing accounts: %w", err)
				}
				if len(accounts) == 0 {
					fmt.Fprintln(cmd.Root().Writer, "No cached accounts.")
					return nil
				}

				table := newTable(cmd.Root().Writer, "Username", "Home account ID", "Environment", "Primary")
				for i, account := range accounts {
					primary := ""
					if i == 0 {
						primary = "*"
					}
					table.Append([]string{account.Username, account.HomeAccountID, account.Environment, primary})
				}
				table.Render()
				return nil
			})
		},
	}
}
