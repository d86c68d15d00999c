package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Option настраивает Load.
type Option func(v *viper.Viper) error

// WithFlag связывает ключ конфига с флагом командной строки. Значение
// флага применяется, только если он задан явно; иначе побеждают ENV и файл.
func WithFlag(key string, f *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if f == nil {
			return fmt.Errorf("configloader: flag for %q not found", key)
		}
		return v.BindPFlag(key, f)
	}
}

// Load загружает конфиг в cfgPtr: из YAML + ENV + flags + defaults.
// envPrefix задаёт префикс ENV переменных, например "QUOTE_RELAY".
func Load(path, envPrefix string, cfgPtr interface{}, opts ...Option) error {
	v := viper.New()

	// Шаг 1: apply registered defaults
	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}

	// Шаг 2: environment override
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Шаг 3: read file (if provided)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Шаг 4: command-line flags
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return err
		}
	}

	// Шаг 5: decode
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 6: validate if possible
	if v, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
