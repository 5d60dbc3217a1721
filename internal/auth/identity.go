package auth

import (
	"context"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

// Account identifies a signed-in user known to the identity store.
type Account struct {
	HomeAccountID string `json:"home_account_id"`
	Username      string `json:"username"`
	Environment   string `json:"environment,omitempty"`

	// native is the identity library's own account value, when known
	native public.Account
}

// Result is a successful token acquisition.
type Result struct {
	AccessToken   string
	ExpiresOn     time.Time
	Account       Account
	GrantedScopes []string
}

// DeviceCodeFlow is a started device-code sign-in.
type DeviceCodeFlow interface {
	// Prompt returns what the user must enter and where.
	Prompt() DeviceCodePrompt
	// Wait polls until the user completes sign-in, the code expires or ctx is done.
	Wait(ctx context.Context) (Result, error)
}

// IdentityClient is the subset of the identity library the engine drives.
type IdentityClient interface {
	Accounts(ctx context.Context) ([]Account, error)
	AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (Result, error)
	AcquireTokenInteractive(ctx context.Context, scopes []string) (Result, error)
	AcquireTokenByDeviceCode(ctx context.Context, scopes []string) (DeviceCodeFlow, error)
	RemoveAccount(ctx context.Context, account Account) error
}
