package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/graphauth/internal/auth"
	"github.com/florianilch/graphauth/internal/graph"
	"github.com/florianilch/graphauth/internal/observability"
	"github.com/florianilch/graphauth/internal/secretstore"
	"github.com/florianilch/graphauth/internal/tokencache"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// CacheProtection selects how the token cache is protected at rest.
type CacheProtection string

const (
	CacheProtectionSealed    CacheProtection = "sealed"
	CacheProtectionPlaintext CacheProtection = "plaintext"
)

// KeyStorageType represents where the cache sealing key is kept.
type KeyStorageType string

const (
	KeyStorageFile    KeyStorageType = "file"
	KeyStorageEnv     KeyStorageType = "env"
	KeyStorageKeyring KeyStorageType = "keyring"
)

// keyringService names the keyring entry holding the cache key.
const keyringService = "graphauth-cache-key"

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigLogExporter       = observability.ExporterNone
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 4100
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigAuthAuthority     = "https://login.microsoftonline.com/common"
	DefaultConfigAuthRedirectURI   = "http://localhost"
	DefaultConfigAuthInteractive   = auth.InteractiveAuto
	DefaultConfigCacheProtection   = CacheProtectionSealed
	DefaultConfigCacheKeyStorage   = KeyStorageKeyring
	DefaultConfigGraphBaseURL      = graph.DefaultBaseURL
	DefaultConfigGraphRPS          = graph.DefaultRequestsPerSecond
	DefaultConfigGraphBurst        = graph.DefaultBurst
	DefaultConfigDispatchInterval  = 16 * time.Millisecond
	DefaultConfigCacheKeyFileName  = "cache.key"
	DefaultConfigApplicationFolder = "graphauth"
)

// DefaultConfigAuthScopes are requested when no scopes are configured.
var DefaultConfigAuthScopes = []string{"User.Read", "Files.ReadWrite"}

// LogConfig holds log sink configuration beyond level and format.
type LogConfig struct {
	File       string                 `json:"file,omitempty"`
	MaxSizeMB  int                    `json:"max_size_mb" validate:"gte=0"`
	MaxBackups int                    `json:"max_backups" validate:"gte=0"`
	Exporter   observability.Exporter `json:"exporter" validate:"oneof=none otlp-grpc otlp-http stdout"`
	Endpoint   string                 `json:"endpoint,omitempty"`
	Insecure   bool                   `json:"insecure"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// AuthConfig describes the public client registration and sign-in behaviour.
type AuthConfig struct {
	ClientID    string               `json:"client_id" validate:"required"`
	Authority   string               `json:"authority" validate:"required,url"`
	RedirectURI string               `json:"redirect_uri,omitempty" validate:"omitempty,url"`
	Scopes      []string             `json:"scopes" validate:"min=1,dive,required"`
	Interactive auth.InteractiveMode `json:"interactive" validate:"oneof=auto always never"`
}

// CacheConfig describes where the token cache lives and how it is protected.
type CacheConfig struct {
	Dir        string          `json:"dir" validate:"required"`
	Protection CacheProtection `json:"protection" validate:"oneof=sealed plaintext"`

	// Key storage for sealed caches (settings mutually exclusive by KeyStorage)
	KeyStorage  KeyStorageType `json:"key_storage" validate:"oneof=file env keyring"`
	KeyFile     string         `json:"key_file,omitempty"`
	KeyEnv      string         `json:"key_env,omitempty"`
	KeyringUser string         `json:"keyring_user,omitempty"`
}

// NewSecretStore creates the store holding the cache sealing key.
func (c *CacheConfig) NewSecretStore() (secretstore.SecretStore, error) {
	switch c.KeyStorage {
	case KeyStorageFile:
		return secretstore.NewFileStore(c.KeyFile)
	case KeyStorageEnv:
		return secretstore.NewEnvStore(c.KeyEnv)
	case KeyStorageKeyring:
		return secretstore.NewKeyringStore(keyringService, c.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported key storage type: %s", c.KeyStorage)
	}
}

// NewProtector creates the at-rest protection for the token cache. Sealed
// caches load or create their key here.
func (c *CacheConfig) NewProtector(ctx context.Context) (tokencache.Protector, error) {
	switch c.Protection {
	case CacheProtectionPlaintext:
		return tokencache.PlaintextProtector{}, nil
	case CacheProtectionSealed:
		store, err := c.NewSecretStore()
		if err != nil {
			return nil, fmt.Errorf("creating key store: %w", err)
		}
		return tokencache.NewSealedProtector(ctx, store)
	default:
		return nil, fmt.Errorf("unsupported cache protection: %s", c.Protection)
	}
}

// GraphConfig holds Graph API client configuration.
type GraphConfig struct {
	BaseURL           string  `json:"base_url" validate:"required,url"`
	RequestsPerSecond float64 `json:"requests_per_second" validate:"gt=0"`
	Burst             int     `json:"burst" validate:"gt=0"`
}

// DispatchConfig holds the host notification pump configuration.
type DispatchConfig struct {
	// Interval between queue drains when no work is signalled.
	Interval time.Duration `json:"interval" validate:"gt=0"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Log       LogConfig      `json:"log"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Auth      AuthConfig     `json:"auth"`
	Cache     CacheConfig    `json:"cache"`
	Graph     GraphConfig    `json:"graph"`
	Dispatch  DispatchConfig `json:"dispatch"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Log.Exporter == "" {
		c.Log.Exporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Auth.Authority == "" {
		c.Auth.Authority = DefaultConfigAuthAuthority
	}
	if c.Auth.RedirectURI == "" {
		c.Auth.RedirectURI = DefaultConfigAuthRedirectURI
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = append([]string(nil), DefaultConfigAuthScopes...)
	}
	if c.Auth.Interactive == "" {
		c.Auth.Interactive = DefaultConfigAuthInteractive
	}
	if c.Cache.Protection == "" {
		c.Cache.Protection = DefaultConfigCacheProtection
	}
	if c.Cache.KeyStorage == "" {
		c.Cache.KeyStorage = DefaultConfigCacheKeyStorage
	}
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = DefaultConfigGraphBaseURL
	}
	if c.Graph.RequestsPerSecond == 0 {
		c.Graph.RequestsPerSecond = DefaultConfigGraphRPS
	}
	if c.Graph.Burst == 0 {
		c.Graph.Burst = DefaultConfigGraphBurst
	}
	if c.Dispatch.Interval == 0 {
		c.Dispatch.Interval = DefaultConfigDispatchInterval
	}

	if c.Cache.Dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("cache.dir required (auto-detect failed: %w)", err)
		}
		c.Cache.Dir = filepath.Join(configDir, DefaultConfigApplicationFolder)
	}

	// Dynamic defaults based on key storage type
	switch c.Cache.KeyStorage {
	case KeyStorageFile:
		if c.Cache.KeyFile == "" {
			c.Cache.KeyFile = filepath.Join(c.Cache.Dir, DefaultConfigCacheKeyFileName)
		}
	case KeyStorageKeyring:
		if c.Cache.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("cache.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Cache.KeyringUser = currentUser.Username
		}
	case KeyStorageEnv:
		// key_env must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Cache.Protection == CacheProtectionPlaintext {
		// no key involved
		return nil
	}

	switch c.Cache.KeyStorage {
	case KeyStorageFile:
		if c.Cache.KeyFile == "" {
			return errors.New("cache.key_file required for file key storage")
		}
		if filepath.Clean(c.Cache.KeyFile) == filepath.Join(filepath.Clean(c.Cache.Dir), tokencache.FileName) {
			return errors.New("cache.key_file must not be the token cache file")
		}
	case KeyStorageEnv:
		if c.Cache.KeyEnv == "" {
			return errors.New("cache.key_env required for env key storage")
		}
	case KeyStorageKeyring:
		if c.Cache.KeyringUser == "" {
			return errors.New("cache.keyring_user required for keyring key storage")
		}
	}

	return nil
}

// ObservabilityOptions maps the logging configuration to the logger setup.
func (c *Config) ObservabilityOptions() observability.Options {
	return observability.Options{
		Level:      c.LogLevel,
		Format:     string(c.LogFormat),
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Exporter:   c.Log.Exporter,
		Endpoint:   c.Log.Endpoint,
		Insecure:   c.Log.Insecure,
	}
}
