// common/redis/storage.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
	"github.com/YaganovValera/dxfeed-go/common/logger"
)

var (
	redisMetrics = struct {
		GetErrors        prometheus.Counter
		SetErrors        prometheus.Counter
		OperationLatency prometheus.Histogram
	}{
		GetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "common", Subsystem: "redis", Name: "get_errors_total",
			Help: "Total number of errors on Redis GET",
		}),
		SetErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "common", Subsystem: "redis", Name: "set_errors_total",
			Help: "Total number of errors on Redis SET",
		}),
		OperationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "common", Subsystem: "redis", Name: "operation_latency_seconds",
			Help:    "Latency of Redis operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	tracer = otel.Tracer("github.com/YaganovValera/dxfeed-go/common/redis")
)

// ErrNotFound возвращается, если ключ отсутствует.
var ErrNotFound = errors.New("redis: key not found")

// Storage: хранилище последних значений с TTL.
type Storage interface {
	// Get возвращает значение по ключу или ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set сохраняет значение по ключу с TTL из конфига.
	Set(ctx context.Context, key string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// client: подмножество goredis.Cmdable, которое нужно Storage.
type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

type storage struct {
	client     client
	ttl        time.Duration
	log        *logger.Logger
	backoffCfg backoff.Config
}

// New соединяется с Redis (с retry) и возвращает Storage.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Storage, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	opts := &goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse URL: %w", err)
		}
		opts = parsed
	}
	rdb := goredis.NewClient(opts)

	ctxConn, span := tracer.Start(ctx, "Connect", trace.WithAttributes(attribute.String("addr", opts.Addr)))
	err := backoff.Execute(ctxConn, cfg.Backoff, log, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		span.RecordError(err)
		span.End()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	span.End()
	log.Info("redis: connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return newStorage(rdb, cfg, log), nil
}

func newStorage(c client, cfg Config, log *logger.Logger) *storage {
	return &storage{client: c, ttl: cfg.TTL, log: log, backoffCfg: cfg.Backoff}
}

func (r *storage) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	val, err := r.client.Get(ctx, key).Bytes()
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		redisMetrics.GetErrors.Inc()
		r.log.WithContext(ctx).Error("redis GET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return nil, err
	}
	return val, nil
}

// Set повторяется по backoff-политике; последние значения котировок
// перезаписываются, поэтому повтор безопасен.
func (r *storage) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := tracer.Start(ctx, "Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	start := time.Now()
	op := func(ctx context.Context) error {
		return r.client.Set(ctx, key, value, r.ttl).Err()
	}
	var err error
	if r.backoffCfg.IsZero() {
		err = op(ctx)
	} else {
		err = backoff.Execute(ctx, r.backoffCfg, r.log, op)
	}
	redisMetrics.OperationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		redisMetrics.SetErrors.Inc()
		r.log.WithContext(ctx).Error("redis SET failed", zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		return err
	}
	return nil
}

func (r *storage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *storage) Close() error {
	return r.client.Close()
}
