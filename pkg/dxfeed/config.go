package dxfeed

import (
	"fmt"
	"time"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

const (
	DefaultMaxSubscriptions = 1024
	DefaultErrorLogInterval = time.Second
	DefaultErrorLogBurst    = 5
)

// Config: параметры соединения.
type Config struct {
	// Address: "host:port" или строка адреса нативной библиотеки.
	Address     string      `mapstructure:"address"`
	Credentials Credentials `mapstructure:"credentials"`

	// Backoff: повторы при недоступности endpoint-а.
	// Нулевое значение → ровно одна попытка.
	Backoff backoff.Config `mapstructure:"backoff"`

	MaxSubscriptions int `mapstructure:"max_subscriptions"`
	MaxSymbolLen     int `mapstructure:"max_symbol_len"`
	MaxStringLen     int `mapstructure:"max_string_len"`

	// Ограничение логов на потоке доставки (ошибки декодирования, паники).
	ErrorLogInterval time.Duration `mapstructure:"error_log_interval"`
	ErrorLogBurst    int           `mapstructure:"error_log_burst"`
}

// Credentials: User/Password → basic, Token → bearer.
type Credentials struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

func (c *Config) applyDefaults() {
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if c.MaxSymbolLen <= 0 {
		c.MaxSymbolLen = event.DefaultMaxSymbolLen
	}
	if c.MaxStringLen <= 0 {
		c.MaxStringLen = event.DefaultMaxStringLen
	}
	if c.ErrorLogInterval <= 0 {
		c.ErrorLogInterval = DefaultErrorLogInterval
	}
	if c.ErrorLogBurst <= 0 {
		c.ErrorLogBurst = DefaultErrorLogBurst
	}
}

func (c Config) validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.Credentials.Token != "" && c.Credentials.User != "" {
		return fmt.Errorf("%w: basic and bearer credentials are mutually exclusive", ErrInvalidConfig)
	}
	if c.Credentials.Password != "" && c.Credentials.User == "" {
		return fmt.Errorf("%w: password without user", ErrInvalidConfig)
	}
	if c.MaxSymbolLen > native.MaxStringScan || c.MaxStringLen > native.MaxStringScan {
		return fmt.Errorf("%w: max_symbol_len and max_string_len must not exceed %d",
			ErrInvalidConfig, native.MaxStringScan)
	}
	return nil
}

func (c Config) limits() event.Limits {
	return event.Limits{MaxSymbolLen: c.MaxSymbolLen, MaxStringLen: c.MaxStringLen}
}

func (c Config) nativeCredentials() *native.Credentials {
	if c.Credentials == (Credentials{}) {
		return nil
	}
	return &native.Credentials{
		User:     c.Credentials.User,
		Password: c.Credentials.Password,
		Token:    c.Credentials.Token,
	}
}
