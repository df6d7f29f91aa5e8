package atlasauth

import (
	"fmt"
	"reflect"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv, for example
// ATLASAUTH_TWO_FACTOR_ENCRYPTION_KEY or ATLASAUTH_RATE_LIMIT_WINDOW=5m.
const EnvPrefix = "ATLASAUTH_"

// LoadConfigFromEnv overlays ATLASAUTH_* variables onto DefaultConfig and
// validates the result. Unset variables keep their defaults. JWT keys are
// taken as raw bytes, so PEM blocks can be passed verbatim.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	opts := env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (interface{}, error) {
				return []byte(v), nil
			},
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
