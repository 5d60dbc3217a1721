package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/graphauth/internal/app"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig("", nil, environ(
		"GRAPHAUTH_AUTH__CLIENT_ID=env-client",
		"GRAPHAUTH_AUTH__SCOPES=User.Read Mail.Read",
		"GRAPHAUTH_CACHE__DIR="+dir,
		"GRAPHAUTH_CACHE__KEY_STORAGE=file",
		"GRAPHAUTH_LOG_LEVEL=debug",
		"GRAPHAUTH_DISPATCH__INTERVAL=50ms",
		"UNRELATED=ignored",
	))
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Auth.ClientID)
	assert.Equal(t, []string{"User.Read", "Mail.Read"}, cfg.Auth.Scopes)
	assert.Equal(t, dir, cfg.Cache.Dir)
	assert.Equal(t, app.KeyStorageFile, cfg.Cache.KeyStorage)
	assert.Equal(t, filepath.Join(dir, "cache.key"), cfg.Cache.KeyFile)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "50ms", cfg.Dispatch.Interval.String())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graphauth.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_format = "json"

[server]
port = 5000

[auth]
client_id = "file-client"
interactive = "never"

[cache]
dir = "`+filepath.ToSlash(dir)+`"
key_storage = "file"
`), 0o600))

	tests := []struct {
		name       string
		args       []string
		env        []string
		wantClient string
	}{
		{name: "file only", args: []string{"test"}, wantClient: "file-client"},
		{name: "env over file", args: []string{"test"}, env: []string{"GRAPHAUTH_AUTH__CLIENT_ID=env-client"}, wantClient: "env-client"},
		{
			name:       "flag over env",
			args:       []string{"test", "--auth--client-id", "flag-client"},
			env:        []string{"GRAPHAUTH_AUTH__CLIENT_ID=env-client"},
			wantClient: "flag-client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *app.Config
			cmd := &cli.Command{
				Name:  "test",
				Flags: rootCommand().Flags,
				Action: func(_ context.Context, cmd *cli.Command) error {
					var err error
					cfg, err = loadConfig(path, cmd, environ(tt.env...))
					return err
				},
			}
			require.NoError(t, cmd.Run(context.Background(), tt.args))

			assert.Equal(t, tt.wantClient, cfg.Auth.ClientID)
			assert.Equal(t, uint16(5000), cfg.Server.Port)
			assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
			// unset flags keep the file's value rather than the flag default
			assert.Equal(t, "never", string(cfg.Auth.Interactive))
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[server\nport = "), 0o600))

	tests := []struct {
		name    string
		path    string
		environ []string
	}{
		{name: "missing client id", environ: []string{"GRAPHAUTH_CACHE__DIR=" + dir, "GRAPHAUTH_CACHE__KEY_STORAGE=file"}},
		{name: "missing file", path: filepath.Join(dir, "absent.toml")},
		{name: "broken file", path: broken},
		{name: "invalid protection", environ: []string{
			"GRAPHAUTH_AUTH__CLIENT_ID=x",
			"GRAPHAUTH_CACHE__DIR=" + dir,
			"GRAPHAUTH_CACHE__KEY_STORAGE=file",
			"GRAPHAUTH_CACHE__PROTECTION=obfuscated",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.path, nil, environ(tt.environ...))
			assert.Error(t, err)
		})
	}
}

func TestFlagOverrides(t *testing.T) {
	var got map[string]any
	cmd := &cli.Command{
		Name: "test",
		Flags: append(rootCommand().Flags,
			&cli.BoolFlag{Name: "open"},
			&cli.StringFlag{Name: "server--host"},
		),
		Action: func(_ context.Context, cmd *cli.Command) error {
			got = flagOverrides(cmd)
			return nil
		},
	}

	err := cmd.Run(context.Background(), []string{"test", "--config", "x.toml", "--open", "--server--host", "0.0.0.0", "--log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"server.host": "0.0.0.0",
		"log_level":   "warn",
	}, got)
}

func TestLoadConfig_ScopeListsFromFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graphauth.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[auth]
client_id = "file-client"
scopes = "User.Read, Mail.Read"

[cache]
dir = "`+filepath.ToSlash(dir)+`"
key_storage = "file"
`), 0o600))

	cfg, err := loadConfig(path, nil, environ())
	require.NoError(t, err)
	assert.Equal(t, []string{"User.Read", "Mail.Read"}, cfg.Auth.Scopes)

	cfg, err = loadConfig(path, nil, environ("GRAPHAUTH_AUTH__SCOPES=Files.Read,\tSites.Read.All  offline_access"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Files.Read", "Sites.Read.All", "offline_access"}, cfg.Auth.Scopes)
}

func TestSplitListHook(t *testing.T) {
	tests := []struct {
		name string
		to   reflect.Type
		data any
		want any
	}{
		{name: "string into list", to: stringSliceType, data: "a, b c", want: []string{"a", "b", "c"}},
		{name: "blank string", to: stringSliceType, data: " , ", want: []string{}},
		{name: "other target", to: reflect.TypeOf(""), data: "a b", want: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitListHook(reflect.TypeOf(tt.data), tt.to, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "auth.client_id", envKey("GRAPHAUTH_AUTH__CLIENT_ID"))
	assert.Equal(t, "log_level", envKey("GRAPHAUTH_LOG_LEVEL"))
	assert.Equal(t, "cache.key_storage", envKey("GRAPHAUTH_CACHE__KEY_STORAGE"))
}
