package app

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/config"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/metrics"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/sink"
)

// Pipeline: слушатель подписки и очередь до sink-ов.
//
// OnEvent вызывается на потоке доставки и никогда не блокируется: при
// полном буфере событие отбрасывается. Запись в sink-и идёт в Run.
type Pipeline struct {
	buf          chan sink.Record
	out          sink.Sink
	writeTimeout time.Duration
	log          *logger.Logger
	warn         *rate.Limiter
	now          func() time.Time
}

var _ dxfeed.Listener = (*Pipeline)(nil)

func NewPipeline(out sink.Sink, cfg config.PipelineConfig, log *logger.Logger) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Pipeline{
		buf:          make(chan sink.Record, cfg.BufferSize),
		out:          out,
		writeTimeout: cfg.WriteTimeout,
		log:          log.Named("pipeline"),
		warn:         rate.NewLimiter(rate.Every(time.Second), 5),
		now:          time.Now,
	}
}

func (p *Pipeline) OnEvent(_ context.Context, ev event.Event) {
	metrics.EventsTotal.WithLabelValues(ev.Kind().String()).Inc()
	select {
	case p.buf <- sink.Record{Event: ev, ReceivedAt: p.now()}:
		metrics.BufferDepth.Set(float64(len(p.buf)))
	default:
		metrics.BufferDrops.Inc()
		if p.warn.Allow() {
			p.log.Warn("pipeline buffer full, dropping event",
				zap.String("symbol", ev.EventSymbol()),
				zap.Stringer("kind", ev.Kind()),
			)
		}
	}
}

func (p *Pipeline) OnError(_ context.Context, err error) {
	metrics.ListenerErrors.Inc()
	if p.warn.Allow() {
		p.log.Warn("listener error", zap.Error(err))
	}
}

// Depth: число событий в буфере.
func (p *Pipeline) Depth() int { return len(p.buf) }

// Run пишет события в sink-и до отмены ctx.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-p.buf:
			p.write(ctx, rec)
		}
	}
}

// Flush дописывает остаток буфера. Вызывается после закрытия подписки.
func (p *Pipeline) Flush(ctx context.Context) error {
	n := 0
	for {
		select {
		case rec := <-p.buf:
			p.write(ctx, rec)
			n++
		default:
			if n > 0 {
				p.log.Info("pipeline flushed", zap.Int("events", n))
			}
			return ctx.Err()
		}
	}
}

func (p *Pipeline) write(ctx context.Context, rec sink.Record) {
	metrics.BufferDepth.Set(float64(len(p.buf)))
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()
	if err := p.out.Write(wctx, rec); err != nil && p.warn.Allow() {
		p.log.Warn("sink write failed",
			zap.String("symbol", rec.Event.EventSymbol()),
			zap.Error(err),
		)
	}
}
