// common/redis/config.go
package redis

import (
	"fmt"
	"time"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
)

// Config хранит параметры подключения к Redis.
// URL ("redis://host:6379/0") имеет приоритет над Addr/Password/DB.
type Config struct {
	URL      string         `mapstructure:"url"`
	Addr     string         `mapstructure:"addr"`
	Password string         `mapstructure:"password"`
	DB       int            `mapstructure:"db"`
	TTL      time.Duration  `mapstructure:"ttl"` // default: 10m
	Backoff  backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
}

func (c Config) validate() error {
	if c.URL == "" && c.Addr == "" {
		return fmt.Errorf("redis: url or addr required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: db must be >= 0")
	}
	return nil
}
