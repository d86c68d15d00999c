package sink

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	commonredis "github.com/YaganovValera/dxfeed-go/common/redis"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

// Redis хранит последнее значение по ключу prefix:kind:symbol.
type Redis struct {
	store  commonredis.Storage
	prefix string
}

func NewRedis(store commonredis.Storage, prefix string) *Redis {
	return &Redis{store: store, prefix: prefix}
}

func (r *Redis) Name() string { return "redis" }

// Key: ключ последнего значения.
func (r *Redis) Key(kind event.Kind, symbol string) string {
	k := strings.ToLower(kind.String()) + ":" + symbol
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) Write(ctx context.Context, rec Record) error {
	key := r.Key(rec.Event.Kind(), rec.Event.EventSymbol())
	ctx, span := tracer.Start(ctx, "RedisSink.Write", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	b, err := EncodeJSON(rec)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := r.store.Set(ctx, key, b); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.store.Close() }
