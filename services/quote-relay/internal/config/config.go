// services/quote-relay/internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/dxfeed-go/common/configloader"
	"github.com/YaganovValera/dxfeed-go/common/httpserver"
	"github.com/YaganovValera/dxfeed-go/common/kafka/producer"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/common/redis"
	"github.com/YaganovValera/dxfeed-go/common/telemetry"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

// EnvPrefix: префикс переменных окружения, например QUOTE_RELAY_DXFEED_ADDRESS.
const EnvPrefix = "QUOTE_RELAY"

// Config: все настройки сервиса.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	DXFeed         dxfeed.Config     `mapstructure:"dxfeed"`
	Feed           FeedConfig        `mapstructure:"feed"`
	Pipeline       PipelineConfig    `mapstructure:"pipeline"`
	Sinks          SinksConfig       `mapstructure:"sinks"`
	HTTP           httpserver.Config `mapstructure:"http"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry"`
	Logging        logger.Config     `mapstructure:"logging"`
}

// FeedConfig: что слушать.
type FeedConfig struct {
	Kinds   string   `mapstructure:"kinds"`
	Symbols []string `mapstructure:"symbols"`
	// Simulate: встроенный симулятор вместо нативной библиотеки.
	Simulate     bool          `mapstructure:"simulate"`
	SimInterval  time.Duration `mapstructure:"sim_interval"`
	TickInterval time.Duration `mapstructure:"tick_interval"` // период "running"-лога
}

// PipelineConfig: буфер между потоком доставки и sink-ами.
type PipelineConfig struct {
	BufferSize   int           `mapstructure:"buffer_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SinksConfig: включённые получатели.
type SinksConfig struct {
	Stdout    StdoutConfig    `mapstructure:"stdout"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

type StdoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Topic    string          `mapstructure:"topic"`    // шаблон, {kind} заменяется на тип события
	Encoding string          `mapstructure:"encoding"` // json | proto
	Producer producer.Config `mapstructure:"producer"`
}

type RedisConfig struct {
	Enabled   bool         `mapstructure:"enabled"`
	KeyPrefix string       `mapstructure:"key_prefix"`
	Client    redis.Config `mapstructure:"client"`
}

type WebSocketConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Path         string        `mapstructure:"path"`
	ClientBuffer int           `mapstructure:"client_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

func init() {
	d := configloader.RegisterDefaults
	d("service_name", "quote-relay")
	d("service_version", "v0.1.0")

	// значения примера подписки dxFeed
	d("dxfeed.address", "demo.dxfeed.com:7300")
	d("dxfeed.max_subscriptions", dxfeed.DefaultMaxSubscriptions)
	d("dxfeed.error_log_interval", "1s")
	d("dxfeed.error_log_burst", dxfeed.DefaultErrorLogBurst)
	d("dxfeed.credentials.user", "")
	d("dxfeed.credentials.password", "")
	d("dxfeed.credentials.token", "")
	d("dxfeed.backoff.initial_interval", "500ms")
	d("dxfeed.backoff.multiplier", 2.0)
	d("dxfeed.backoff.max_interval", "10s")
	d("dxfeed.backoff.max_retries", 5)

	d("feed.kinds", "quote")
	d("feed.symbols", []string{"AAPL"})
	d("feed.simulate", false)
	d("feed.sim_interval", "200ms")
	d("feed.tick_interval", "10s")

	d("pipeline.buffer_size", 4096)
	d("pipeline.write_timeout", "2s")

	d("sinks.stdout.enabled", true)
	d("sinks.kafka.enabled", false)
	d("sinks.kafka.topic", "dxfeed.{kind}")
	d("sinks.kafka.encoding", "json")
	d("sinks.kafka.producer.brokers", []string{})
	d("sinks.kafka.producer.required_acks", "leader")
	d("sinks.kafka.producer.compression", "lz4")
	d("sinks.redis.enabled", false)
	d("sinks.redis.key_prefix", "dxfeed")
	d("sinks.redis.client.addr", "localhost:6379")
	d("sinks.redis.client.ttl", "10m")
	d("sinks.websocket.enabled", true)
	d("sinks.websocket.path", "/ws")
	d("sinks.websocket.client_buffer", 256)
	d("sinks.websocket.write_timeout", "5s")
	d("sinks.websocket.ping_interval", "30s")

	d("http.addr", ":8080")
	d("telemetry.endpoint", "")
	d("telemetry.insecure", true)
	d("logging.level", "info")
	d("logging.dev_mode", false)
}

// Load загружает и валидирует конфиг. Если path пустой: читаются только ENV,
// флаги и defaults.
func Load(path string, opts ...configloader.Option) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	return &cfg, nil
}

// EventKinds разбирает feed.kinds ("quote,trade" или "all").
func (c *Config) EventKinds() (event.Kind, error) {
	return event.ParseKinds(c.Feed.Kinds)
}

// Validate проверяет только то, что не проверят сами компоненты.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.DXFeed.Address == "" && !c.Feed.Simulate {
		return fmt.Errorf("dxfeed.address is required")
	}
	if _, err := c.EventKinds(); err != nil {
		return fmt.Errorf("feed.kinds: %w", err)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must contain at least one entry")
	}
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("pipeline.buffer_size must be > 0")
	}
	if c.Sinks.Kafka.Enabled {
		if len(c.Sinks.Kafka.Producer.Brokers) == 0 {
			return fmt.Errorf("sinks.kafka.producer.brokers is required")
		}
		if c.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("sinks.kafka.topic is required")
		}
		switch strings.ToLower(c.Sinks.Kafka.Encoding) {
		case "json", "proto":
		default:
			return fmt.Errorf("sinks.kafka.encoding must be one of [json, proto]")
		}
	}
	if c.Sinks.WebSocket.Enabled && !strings.HasPrefix(c.Sinks.WebSocket.Path, "/") {
		return fmt.Errorf("sinks.websocket.path must start with '/'")
	}
	if !c.Sinks.Stdout.Enabled && !c.Sinks.Kafka.Enabled && !c.Sinks.Redis.Enabled && !c.Sinks.WebSocket.Enabled {
		return fmt.Errorf("at least one sink must be enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error]")
	}
	return nil
}

// Redacted: копия для печати без секретов.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.DXFeed.Credentials.Password = mask(c.DXFeed.Credentials.Password)
	c.DXFeed.Credentials.Token = mask(c.DXFeed.Credentials.Token)
	c.Sinks.Redis.Client.Password = mask(c.Sinks.Redis.Client.Password)
	c.Sinks.Redis.Client.URL = mask(c.Sinks.Redis.Client.URL)
	return c
}
