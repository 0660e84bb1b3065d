package composer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/langsettings/composer/engine/schema"
)

const envPrefix = "COMPOSER_"

// Config tunes the engine's write-path policy and caching behavior.
type Config struct {
	// PruneDefaults enables dropping overrides equal to computed defaults on
	// write-back. Disabled by default, see settings.Pruner for the rationale.
	PruneDefaults bool `koanf:"prune_defaults"`
	// MaxCachedPlugins bounds the per-plugin composition cache map.
	MaxCachedPlugins int `koanf:"max_cached_plugins" validate:"gt=0"`
	// DebounceWindow coalesces bursts of session-set-change notifications.
	DebounceWindow time.Duration `koanf:"debounce_window" validate:"gte=0"`
	// ReloadRetries caps retry attempts for the fire-and-forget reload.
	ReloadRetries uint64 `koanf:"reload_retries"`
}

func DefaultConfig() *Config {
	return &Config{
		PruneDefaults:    false,
		MaxCachedPlugins: 32,
		DebounceWindow:   100 * time.Millisecond,
		ReloadRetries:    3,
	}
}

func (c *Config) Validate(ctx context.Context) error {
	if err := schema.NewStructValidator(c).Validate(ctx); err != nil {
		return fmt.Errorf("invalid composer config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from defaults overridden by COMPOSER_* env vars
// (e.g. COMPOSER_PRUNE_DEFAULTS, COMPOSER_DEBOUNCE_WINDOW).
func LoadConfig(ctx context.Context) (*Config, error) {
	k := koanf.New(".")
	provider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to load composer config from env: %w", err)
	}
	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal composer config: %w", err)
	}
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}
