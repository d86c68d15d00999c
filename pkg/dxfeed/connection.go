// Пакет dxfeed задаёт безопасную границу над нативным C-клиентом dxFeed:
// владение хендлом соединения, реестр подписок и доставка
// декодированных событий слушателям.
package dxfeed

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/common/safe"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

var tracer = otel.Tracer("github.com/YaganovValera/dxfeed-go/pkg/dxfeed")

// Status: состояние нативного соединения.
type Status = native.Status

const (
	StatusNotConnected  = native.StatusNotConnected
	StatusConnected     = native.StatusConnected
	StatusLoginRequired = native.StatusLoginRequired
	StatusAuthorized    = native.StatusAuthorized
)

// Connection: единственный владелец нативного соединения.
//
// Хендл не выходит за пределы пакета. Если Connection и все его
// подписки стали недостижимы без Disconnect, финализатор выполнит тот же
// teardown и запишет предупреждение об утечке. Нативная таблица
// маршрутов держит только внутренние структуры, но не владельца.
type Connection struct {
	*connection
}

type connection struct {
	id      string
	address string
	cfg     Config
	lib     native.Library
	log     *logger.Logger

	handle native.ConnHandle // неизменен после Connect
	alive  atomic.Bool
	status atomic.Int32

	reg   *registry
	loop  *controlLoop
	group *safe.Group

	termOnce     sync.Once
	terminated   chan struct{}
	teardownOnce sync.Once
	done         chan struct{}
}

var _ native.ConnHooks = (*connection)(nil)

// Connect открывает нативное соединение.
//
// Ошибки: *ConnectionError с причиной ErrUnreachable, ErrAuthRejected
// или ErrNativeInit. Повторяется только ErrUnreachable и только если
// задан cfg.Backoff. При любой ошибке нативных ресурсов не остаётся.
func Connect(ctx context.Context, cfg Config, lib native.Library, log *logger.Logger) (*Connection, error) {
	cfg.applyDefaults()

	ctx, span := tracer.Start(ctx, "dxfeed.Connect", trace.WithAttributes(
		attribute.String("dxfeed.address", cfg.Address),
	))
	defer span.End()

	fail := func(err *ConnectionError) (*Connection, error) {
		metrics.ConnectErrors.WithLabelValues(causeLabel(err.Err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return fail(&ConnectionError{Op: "connect", Address: cfg.Address, Err: err})
	}
	if lib == nil {
		return fail(&ConnectionError{Op: "connect", Address: cfg.Address, Err: ErrNativeInit, Native: native.ErrNotLinked})
	}

	id := uuid.NewString()
	log = log.Named("dxfeed").With(zap.String("conn_id", id), zap.String("address", cfg.Address))

	c := &connection{
		id:         id,
		address:    cfg.Address,
		cfg:        cfg,
		lib:        lib,
		log:        log,
		reg:        newRegistry(cfg, log),
		loop:       newControlLoop(log),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
	}

	attempt := func(context.Context) error {
		h, err := lib.Connect(cfg.Address, cfg.nativeCredentials(), c)
		if err != nil {
			return classifyConnect(cfg.Address, err)
		}
		c.handle = h
		return nil
	}

	var err error
	if cfg.Backoff.IsZero() {
		err = attempt(ctx)
	} else {
		err = backoff.Execute(ctx, cfg.Backoff, log, func(ctx context.Context) error {
			if err := attempt(ctx); err != nil {
				if !errors.Is(err, ErrUnreachable) {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		})
	}
	if err != nil {
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			ce = &ConnectionError{Op: "connect", Address: cfg.Address, Err: ErrUnreachable, Native: err}
		}
		log.Warn("connect failed", zap.Error(ce))
		return fail(ce)
	}

	// Соединение получено, но вызывающий уже ушёл: хендл освобождается
	// до возврата.
	if cerr := ctx.Err(); cerr != nil {
		if rerr := lib.CloseConnection(c.handle); rerr != nil {
			log.Warn("close after cancelled connect failed", zap.Error(rerr))
		}
		return fail(&ConnectionError{Op: "connect", Address: cfg.Address, Err: ErrUnreachable, Native: cerr})
	}

	c.group = safe.New(context.Background(), log)
	c.group.Go(c.loop.run)
	c.alive.Store(true)
	metrics.Connections.Inc()
	log.Info("connected")

	owner := &Connection{c}
	runtime.SetFinalizer(owner, func(o *Connection) { o.connection.finalize() })
	return owner, nil
}

func classifyConnect(address string, err error) *ConnectionError {
	ce := &ConnectionError{Op: "connect", Address: address, Err: ErrNativeInit, Native: err}
	if code, ok := native.CodeOf(err); ok {
		switch code {
		case native.CodeConnect:
			ce.Err = ErrUnreachable
		case native.CodeAuth:
			ce.Err = ErrAuthRejected
		}
	}
	return ce
}

func causeLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrAuthRejected):
		return "auth_rejected"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		return "native_init"
	}
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (c *connection) ID() string      { return c.id }
func (c *connection) Address() string { return c.address }

// Alive сообщает, что Disconnect ещё не вызывался.
func (c *connection) Alive() bool { return c.alive.Load() }

// Status: последнее состояние, о котором сообщила библиотека.
func (c *connection) Status() Status { return Status(c.status.Load()) }

// Terminated закрывается, когда библиотека сообщила о завершении соединения.
func (c *connection) Terminated() <-chan struct{} { return c.terminated }

// Done закрывается после освобождения нативного хендла.
func (c *connection) Done() <-chan struct{} { return c.done }

// Subscriptions: число зарегистрированных подписок.
func (c *connection) Subscriptions() int { return c.reg.count() }

// -----------------------------------------------------------------------------
// native.ConnHooks
// -----------------------------------------------------------------------------

func (c *connection) OnStatusChange(old, new native.Status) {
	c.status.Store(int32(new))
	metrics.StatusChanges.WithLabelValues(new.String()).Inc()
	c.log.Info("connection status changed",
		zap.Stringer("old", old),
		zap.Stringer("new", new),
	)
}

func (c *connection) OnTermination() {
	c.termOnce.Do(func() {
		metrics.Terminations.Inc()
		c.log.Warn("connection terminated by native library")
		close(c.terminated)
	})
}

// -----------------------------------------------------------------------------
// Subscribe
// -----------------------------------------------------------------------------

// Subscribe регистрирует слушателя на kinds × symbols.
//
// Из контекста доставки подписка создаётся отложенно: Subscribe
// возвращает *Subscription сразу, а ошибка нативного создания придёт
// в l.OnError.
func (o *Connection) Subscribe(ctx context.Context, kinds event.Kind, symbols []string, l Listener) (*Subscription, error) {
	s, err := o.connection.subscribe(ctx, kinds, symbols, l)
	if err != nil {
		return nil, err
	}
	return &Subscription{subscription: s, owner: o}, nil
}

func (c *connection) subscribe(ctx context.Context, kinds event.Kind, symbols []string, l Listener) (*subscription, error) {
	const op = "subscribe"
	if !c.alive.Load() {
		return nil, &UseAfterCloseError{Op: op, Resource: "connection"}
	}
	if l == nil {
		return nil, &SubscriptionError{Op: op, Err: ErrNilListener}
	}
	if !kinds.Valid() {
		return nil, &SubscriptionError{Op: op, Err: ErrInvalidEventKind}
	}
	syms, err := c.validateSymbols(op, symbols)
	if err != nil {
		return nil, err
	}

	s := newSubscription(c, kinds, syms, l)
	if err := c.reg.add(s.token, s.entry); err != nil {
		return nil, &SubscriptionError{Op: op, Err: err}
	}

	if InDelivery(ctx) {
		if !c.loop.enqueue(op, func() { s.openDeferred() }) {
			c.reg.remove(s.token)
			return nil, &UseAfterCloseError{Op: op, Resource: "connection"}
		}
		return s, nil
	}

	_, span := tracer.Start(ctx, "dxfeed.Subscribe", trace.WithAttributes(
		attribute.String("dxfeed.kinds", kinds.String()),
		attribute.Int("dxfeed.symbols", len(syms)),
	))
	defer span.End()

	if err := s.open(); err != nil {
		s.entry.closed.Store(true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.log.Debug("subscribed",
		zap.Uint64("token", uint64(s.token)),
		zap.Stringer("kinds", kinds),
		zap.Strings("symbols", syms),
	)
	return s, nil
}

// -----------------------------------------------------------------------------
// Disconnect / teardown
// -----------------------------------------------------------------------------

// Disconnect закрывает все подписки и освобождает нативный хендл ровно
// один раз. Повторные вызовы ждут завершения первого (или отмены ctx).
// Ошибки освобождения только логируются.
func (c *connection) Disconnect(ctx context.Context) {
	if !c.alive.CompareAndSwap(true, false) {
		if !InDelivery(ctx) {
			select {
			case <-c.done:
			case <-ctx.Done():
			}
		}
		return
	}
	c.reg.closeAll()

	if InDelivery(ctx) {
		if c.loop.enqueue("disconnect", func() { c.teardown(true) }) {
			return
		}
	}

	_, span := tracer.Start(ctx, "dxfeed.Disconnect")
	defer span.End()
	c.teardown(false)
}

func (c *connection) finalize() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	c.log.Warn("connection leaked: finalizer released it; call Disconnect")
	c.reg.closeAll()
	c.teardown(false)
}

// teardown: остановка управляющего цикла → закрытие подписок →
// закрытие соединения. fromLoop: вызов из самого цикла.
func (c *connection) teardown(fromLoop bool) {
	c.teardownOnce.Do(func() {
		c.loop.stop()
		if fromLoop {
			// цикл завершится сам после возврата из этой операции
			go func() { _ = c.group.Stop() }()
		} else {
			_ = c.group.Stop()
		}

		for _, s := range c.reg.snapshot() {
			s.drain()
			s.release()
		}

		if err := c.lib.CloseConnection(c.handle); err != nil {
			metrics.ReleaseErrors.WithLabelValues("close_connection").Inc()
			c.log.Error("native close connection failed", zap.Error(err))
		}
		metrics.Connections.Dec()
		c.log.Info("disconnected")
		close(c.done)
	})
}
