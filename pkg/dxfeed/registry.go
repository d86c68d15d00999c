package dxfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// entry: состояние одного токена.
//
// mu сериализует доставки между собой и с Close: Close выставляет
// closed и один раз захватывает mu (drain), после чего ни одна
// доставка не дойдёт до слушателя.
type entry struct {
	mu       sync.Mutex
	closed   atomic.Bool
	sub      *subscription
	listener Listener
	ctx      context.Context
}

// registry отображает токены на подписки соединения и является
// native.Sink для всех его слушателей. Поиск по токену без блокировок.
type registry struct {
	entries sync.Map // native.Token → *entry
	size    atomic.Int64
	max     int64

	limits  event.Limits
	log     *logger.Logger
	limiter *rate.Limiter
}

var _ native.Sink = (*registry)(nil)

func newRegistry(cfg Config, log *logger.Logger) *registry {
	return &registry{
		max:     int64(cfg.MaxSubscriptions),
		limits:  cfg.limits(),
		log:     log,
		limiter: rate.NewLimiter(rate.Every(cfg.ErrorLogInterval), cfg.ErrorLogBurst),
	}
}

func (r *registry) add(tok native.Token, e *entry) error {
	if r.size.Add(1) > r.max {
		r.size.Add(-1)
		return ErrRegistryFull
	}
	r.entries.Store(tok, e)
	metrics.Subscriptions.Inc()
	return nil
}

func (r *registry) remove(tok native.Token) {
	if _, ok := r.entries.LoadAndDelete(tok); ok {
		r.size.Add(-1)
		metrics.Subscriptions.Dec()
	}
}

func (r *registry) count() int { return int(r.size.Load()) }

// snapshot возвращает подписки, зарегистрированные на момент вызова.
func (r *registry) snapshot() []*subscription {
	var out []*subscription
	r.entries.Range(func(_, v any) bool {
		out = append(out, v.(*entry).sub)
		return true
	})
	return out
}

// closeAll помечает все записи закрытыми; новые доставки отбрасываются.
func (r *registry) closeAll() {
	r.entries.Range(func(_, v any) bool {
		v.(*entry).closed.Store(true)
		return true
	})
}

// Deliver вызывается нативной библиотекой на её потоке доставки.
// Запись декодируется до захвата mu, слушатель вызывается под mu.
func (r *registry) Deliver(tok native.Token, rec *native.Record) {
	v, ok := r.entries.Load(tok)
	if !ok {
		metrics.Stale.Inc()
		return
	}
	e := v.(*entry)
	if e.closed.Load() {
		metrics.Stale.Inc()
		return
	}

	ev, err := event.Decode(rec, r.limits)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		metrics.Stale.Inc()
		return
	}
	defer r.recoverListener(tok)

	if err != nil {
		var de *event.DecodeError
		if errors.As(err, &de) {
			metrics.DecodeErrors.WithLabelValues(de.Reason.String()).Inc()
		}
		if r.limiter.Allow() {
			r.log.Warn("record rejected", zap.Uint64("token", uint64(tok)), zap.Error(err))
		}
		e.listener.OnError(e.ctx, err)
		return
	}
	countDelivered(ev.Kind())
	e.listener.OnEvent(e.ctx, ev)
}

// notify передаёт ошибку отложенной операции слушателю с соблюдением
// порядка доставок. Вызывается вне потока доставки.
func (r *registry) notify(tok native.Token, e *entry, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return
	}
	defer r.recoverListener(tok)
	e.listener.OnError(e.ctx, err)
}

func (r *registry) recoverListener(tok native.Token) {
	if p := recover(); p != nil {
		metrics.ListenerPanics.Inc()
		if r.limiter.Allow() {
			r.log.Error("listener panic recovered",
				zap.Uint64("token", uint64(tok)),
				zap.String("panic", fmt.Sprint(p)),
				zap.Stack("stack"),
			)
		}
	}
}
