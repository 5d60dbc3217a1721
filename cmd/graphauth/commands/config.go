package commands

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/graphauth/internal/app"
)

// envPrefix marks the environment variables read as configuration.
// GRAPHAUTH_CACHE__KEY_STORAGE sets cache.key_storage.
const envPrefix = "GRAPHAUTH_"

// configLayer is one configuration source. Later layers override earlier ones.
type configLayer struct {
	name string
	load func(k *koanf.Koanf) error
}

// loadConfig merges the config file, the environment and explicitly set
// flags, in that order, then fills defaults and validates.
func loadConfig(configPath string, cmd *cli.Command, environ func() []string) (*app.Config, error) {
	k := koanf.New(".")
	for _, layer := range configLayers(configPath, cmd, environ) {
		if err := layer.load(k); err != nil {
			return nil, fmt.Errorf("loading %s: %w", layer.name, err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag:           "json",
		DecoderConfig: decoderConfig(cfg),
	}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configLayers(configPath string, cmd *cli.Command, environ func() []string) []configLayer {
	var layers []configLayer

	if configPath != "" {
		layers = append(layers, configLayer{name: "config file", load: func(k *koanf.Koanf) error {
			return k.Load(file.Provider(configPath), toml.Parser())
		}})
	}

	layers = append(layers, configLayer{name: "environment", load: func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: envPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return envKey(key), value
			},
			EnvironFunc: environ,
		}), nil)
	}})

	if cmd != nil {
		layers = append(layers, configLayer{name: "flags", load: func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(flagOverrides(cmd), "."), nil)
		}})
	}
	return layers
}

// envKey maps GRAPHAUTH_AUTH__CLIENT_ID to auth.client_id.
func envKey(name string) string {
	name = strings.TrimPrefix(name, envPrefix)
	return strings.ToLower(strings.ReplaceAll(name, "__", "."))
}

// decoderConfig mirrors koanf's defaults and adds list splitting.
func decoderConfig(result any) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.DecodeHookFuncType(splitListHook),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		Result:           result,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
}

var stringSliceType = reflect.TypeOf([]string(nil))

// splitListHook lets a single string fill a string list, separated by commas
// or whitespace as OAuth scope strings are.
func splitListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != stringSliceType {
		return data, nil
	}
	return strings.FieldsFunc(reflect.ValueOf(data).String(), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	}), nil
}

// flagOverrides returns the flags set on the command line, parents included,
// keyed by config path: --server--host becomes server.host and --log-level
// becomes log_level. Unset flags are left out so their defaults do not mask
// the file or the environment.
func flagOverrides(cmd *cli.Command) map[string]any {
	overrides := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if _, ok := commandOnlyFlags[name]; ok || !cmd.IsSet(name) {
			continue
		}
		value := cmd.Value(name)
		if value == nil {
			continue
		}
		key := strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
		overrides[key] = value
	}
	return overrides
}

// commandOnlyFlags have no counterpart in app.Config.
var commandOnlyFlags = map[string]struct{}{
	"config": {},
	"c":      {},
	"open":   {},
	"force":  {},
	"claims": {},
	"limit":  {},
}
