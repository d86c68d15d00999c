// services/quote-relay/internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/dxfeed-go/common"
	"github.com/YaganovValera/dxfeed-go/common/httpserver"
	producer "github.com/YaganovValera/dxfeed-go/common/kafka/producer"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/common/middleware"
	commonredis "github.com/YaganovValera/dxfeed-go/common/redis"
	"github.com/YaganovValera/dxfeed-go/common/shutdown"
	"github.com/YaganovValera/dxfeed-go/common/telemetry"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native/sim"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/config"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/metrics"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/sink"
)

// ErrFeedTerminated: библиотека сообщила о завершении соединения.
var ErrFeedTerminated = errors.New("dxfeed connection terminated")

const (
	simAddress      = "sim:7300"
	shutdownTimeout = 5 * time.Second
)

type options struct {
	lib    native.Library
	sinks  []sink.Sink
	stdout io.Writer
}

// Option подменяет зависимости Run (используется в тестах).
type Option func(*options)

// WithLibrary задаёт нативную библиотеку вместо native.Load/симулятора.
func WithLibrary(lib native.Library) Option { return func(o *options) { o.lib = lib } }

// WithSink добавляет sink к настроенным в конфиге.
func WithSink(s sink.Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s) } }

// Run поднимает соединение dxFeed, подписку, sink-и и HTTP-сервер и
// работает до отмены ctx или завершения соединения.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) error {
	o := options{stdout: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	common.InitServiceName(cfg.ServiceName)
	metrics.Register(nil)
	dxfeed.RegisterMetrics(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	kinds, err := cfg.EventKinds()
	if err != nil {
		return fmt.Errorf("feed kinds: %w", err)
	}

	lib, gen, err := openLibrary(cfg, o.lib)
	if err != nil {
		return err
	}

	// 1) Sink-и
	outs, handlers, err := buildSinks(ctx, cfg, log, o.stdout)
	if err != nil {
		return err
	}
	outs = append(outs, o.sinks...)
	multi := sink.NewMulti(log, outs...)
	defer shutdownSafe(ctx, "sinks", multi.Close, log)

	// 2) Соединение
	dxCfg := cfg.DXFeed
	if cfg.Feed.Simulate && dxCfg.Address == "" {
		dxCfg.Address = simAddress
	}
	conn, err := dxfeed.Connect(ctx, dxCfg, lib, log)
	if err != nil {
		return fmt.Errorf("dxfeed connect: %w", err)
	}
	// повторный Disconnect после упорядоченного shutdown ничего не делает
	defer conn.Disconnect(context.Background())

	// 3) Подписка
	pipe := NewPipeline(multi, cfg.Pipeline, log)
	sub, err := conn.Subscribe(ctx, kinds, cfg.Feed.Symbols, pipe)
	if err != nil {
		return fmt.Errorf("dxfeed subscribe: %w", err)
	}
	log.WithContext(ctx).Info("subscribed",
		zap.Stringer("kinds", kinds),
		zap.Strings("symbols", sub.Symbols()),
		zap.Int("sinks", multi.Len()),
	)

	// 4) HTTP
	readiness := func() error {
		if !conn.Alive() {
			return errors.New("dxfeed connection closed")
		}
		switch st := conn.Status(); st {
		case dxfeed.StatusConnected, dxfeed.StatusAuthorized:
			return nil
		default:
			return fmt.Errorf("dxfeed status %s", st)
		}
	}
	httpSrv, err := httpserver.New(cfg.HTTP, readiness, log, handlers,
		middleware.RequestID(),
		middleware.Metrics(),
		middleware.AccessLog(log),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(gctx) })
	g.Go(func() error { return pipe.Run(gctx) })
	if gen != nil {
		g.Go(func() error { return gen.Run(gctx) })
	}
	g.Go(func() error { return watch(gctx, conn, pipe, cfg.Feed.TickInterval, log) })

	err = g.Wait()

	// Порядок: подписка → соединение → остаток буфера → sink-и (defer).
	shutdown.GracefulShutdown("subscription", shutdownTimeout, func(ctx context.Context) error {
		sub.Close(ctx)
		return nil
	}, log)
	shutdown.GracefulShutdown("dxfeed-connection", shutdownTimeout, func(ctx context.Context) error {
		conn.Disconnect(ctx)
		return ctx.Err()
	}, log)
	shutdown.GracefulShutdown("pipeline", shutdownTimeout, pipe.Flush, log)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("quote-relay stopped by context")
	return nil
}

// openLibrary выбирает реализацию нативного ABI.
func openLibrary(cfg *config.Config, override native.Library) (native.Library, *sim.Generator, error) {
	lib := override
	if lib == nil {
		if cfg.Feed.Simulate {
			lib = sim.New()
		} else {
			l, err := native.Load()
			if err != nil {
				return nil, nil, fmt.Errorf("load native library (build with -tags dxfeed_native or enable feed.simulate): %w", err)
			}
			lib = l
		}
	}
	var gen *sim.Generator
	if s, ok := lib.(*sim.Library); ok && cfg.Feed.Simulate {
		gen = sim.NewGenerator(s, cfg.Feed.SimInterval, uint64(time.Now().UnixNano()))
	}
	return lib, gen, nil
}

// buildSinks создаёт включённые sink-и. При ошибке уже созданные закрываются.
func buildSinks(ctx context.Context, cfg *config.Config, log *logger.Logger, stdout io.Writer) ([]sink.Sink, map[string]http.Handler, error) {
	var (
		outs     []sink.Sink
		handlers = map[string]http.Handler{}
	)
	fail := func(err error) ([]sink.Sink, map[string]http.Handler, error) {
		for i := len(outs) - 1; i >= 0; i-- {
			_ = outs[i].Close()
		}
		return nil, nil, err
	}

	sc := cfg.Sinks
	if sc.Stdout.Enabled {
		outs = append(outs, sink.NewStdout(stdout))
	}
	if sc.Kafka.Enabled {
		p, err := producer.New(ctx, sc.Kafka.Producer, log)
		if err != nil {
			return fail(fmt.Errorf("kafka producer init: %w", err))
		}
		k, err := sink.NewKafka(p, sc.Kafka.Topic, sc.Kafka.Encoding)
		if err != nil {
			_ = p.Close()
			return fail(err)
		}
		outs = append(outs, k)
	}
	if sc.Redis.Enabled {
		store, err := commonredis.New(ctx, sc.Redis.Client, log)
		if err != nil {
			return fail(fmt.Errorf("redis init: %w", err))
		}
		outs = append(outs, sink.NewRedis(store, sc.Redis.KeyPrefix))
	}
	if sc.WebSocket.Enabled {
		hub := sink.NewHub(sink.HubConfig{
			ClientBuffer: sc.WebSocket.ClientBuffer,
			WriteTimeout: sc.WebSocket.WriteTimeout,
			PingInterval: sc.WebSocket.PingInterval,
		}, log)
		outs = append(outs, hub)
		handlers[sc.WebSocket.Path] = hub
	}
	return outs, handlers, nil
}

// watch периодически пишет состояние и завершает работу, если
// библиотека закрыла соединение.
func watch(ctx context.Context, conn *dxfeed.Connection, pipe *Pipeline, every time.Duration, log *logger.Logger) error {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Terminated():
			log.Error("dxfeed connection terminated, stopping")
			return ErrFeedTerminated
		case <-ticker.C:
			log.Info("running",
				zap.Stringer("status", conn.Status()),
				zap.Int("subscriptions", conn.Subscriptions()),
				zap.Int("buffer_depth", pipe.Depth()),
			)
		}
	}
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(fmt.Sprintf("%s: shutting down", name))
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Info(fmt.Sprintf("%s: shutdown complete", name))
	}
}
