package auth

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/pkg/browser"
)

// InteractiveMode controls whether the system-browser flow is attempted.
type InteractiveMode string

const (
	// InteractiveAuto attempts the browser flow when a graphical session is detected.
	InteractiveAuto InteractiveMode = "auto"
	// InteractiveAlways always attempts the browser flow.
	InteractiveAlways InteractiveMode = "always"
	// InteractiveNever goes straight to device code.
	InteractiveNever InteractiveMode = "never"
)

// MSALConfig describes the public client application.
type MSALConfig struct {
	ClientID    string
	Authority   string
	RedirectURI string
	Interactive InteractiveMode
	// Cache persists the token cache; nil keeps it in memory only.
	Cache cache.ExportReplace
	// OpenURL launches the browser; defaults to the system browser.
	OpenURL func(url string) error
}

// MSALClient implements IdentityClient with MSAL's public client.
type MSALClient struct {
	client      public.Client
	redirectURI string
	interactive InteractiveMode
	openURL     func(string) error
	getenv      func(string) string
}

// Compile-time check to ensure MSALClient implements IdentityClient
var _ IdentityClient = (*MSALClient)(nil)

// NewMSALClient creates the public client. A blank client ID is a
// configuration error.
func NewMSALClient(cfg MSALConfig) (*MSALClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: client id cannot be empty", ErrConfiguration)
	}

	var opts []public.Option
	if cfg.Authority != "" {
		opts = append(opts, public.WithAuthority(cfg.Authority))
	}
	if cfg.Cache != nil {
		opts = append(opts, public.WithCache(cfg.Cache))
	}

	client, err := public.New(cfg.ClientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating public client: %w", ErrConfiguration, err)
	}

	m := &MSALClient{
		client:      client,
		redirectURI: cfg.RedirectURI,
		interactive: cfg.Interactive,
		openURL:     cfg.OpenURL,
		getenv:      os.Getenv,
	}
	if m.interactive == "" {
		m.interactive = InteractiveAuto
	}
	if m.openURL == nil {
		m.openURL = browser.OpenURL
	}
	return m, nil
}

// Accounts lists the accounts in the token cache.
func (m *MSALClient) Accounts(ctx context.Context) ([]Account, error) {
	accounts, err := m.client.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, fromMSALAccount(a))
	}
	return out, nil
}

func (m *MSALClient) AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (Result, error) {
	res, err := m.client.AcquireTokenSilent(ctx, scopes, public.WithSilentAccount(account.native))
	if err != nil {
		return Result{}, err
	}
	return fromMSALResult(res), nil
}

// AcquireTokenInteractive runs the browser flow. A browser that cannot be
// launched, or a host without a graphical session, yields
// ErrInteractiveUnsupported.
func (m *MSALClient) AcquireTokenInteractive(ctx context.Context, scopes []string) (Result, error) {
	if !m.interactiveAvailable() {
		return Result{}, ErrInteractiveUnsupported
	}

	var openErr error
	opts := []public.AcquireInteractiveOption{
		public.WithOpenURL(func(url string) error {
			if err := m.openURL(url); err != nil {
				openErr = err
				return err
			}
			return nil
		}),
	}
	if m.redirectURI != "" {
		opts = append(opts, public.WithRedirectURI(m.redirectURI))
	}

	res, err := m.client.AcquireTokenInteractive(ctx, scopes, opts...)
	switch {
	case err == nil:
		return fromMSALResult(res), nil
	case openErr != nil:
		return Result{}, fmt.Errorf("%w: opening browser: %w", ErrInteractiveUnsupported, openErr)
	case requiresUserAction(err):
		return Result{}, fmt.Errorf("%w: %w", ErrUserActionRequired, err)
	default:
		return Result{}, err
	}
}

func (m *MSALClient) AcquireTokenByDeviceCode(ctx context.Context, scopes []string) (DeviceCodeFlow, error) {
	dc, err := m.client.AcquireTokenByDeviceCode(ctx, scopes)
	if err != nil {
		return nil, err
	}
	return msalDeviceCode{code: dc}, nil
}

func (m *MSALClient) RemoveAccount(ctx context.Context, account Account) error {
	return m.client.RemoveAccount(ctx, account.native)
}

func (m *MSALClient) interactiveAvailable() bool {
	switch m.interactive {
	case InteractiveNever:
		return false
	case InteractiveAlways:
		return true
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	default:
		return m.getenv("DISPLAY") != "" || m.getenv("WAYLAND_DISPLAY") != ""
	}
}

type msalDeviceCode struct {
	code public.DeviceCode
}

func (d msalDeviceCode) Prompt() DeviceCodePrompt {
	r := d.code.Result
	return DeviceCodePrompt{
		VerificationURL: r.VerificationURL,
		UserCode:        r.UserCode,
		Message:         r.Message,
		ExpiresOn:       r.ExpiresOn,
	}
}

func (d msalDeviceCode) Wait(ctx context.Context) (Result, error) {
	res, err := d.code.AuthenticationResult(ctx)
	if err != nil {
		return Result{}, err
	}
	return fromMSALResult(res), nil
}

func fromMSALAccount(a public.Account) Account {
	return Account{
		HomeAccountID: a.HomeAccountID,
		Username:      a.PreferredUsername,
		Environment:   a.Environment,
		native:        a,
	}
}

func fromMSALResult(res public.AuthResult) Result {
	return Result{
		AccessToken:   res.AccessToken,
		ExpiresOn:     res.ExpiresOn,
		Account:       fromMSALAccount(res.Account),
		GrantedScopes: res.GrantedScopes,
	}
}
