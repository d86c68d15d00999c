// Пакет sink содержит получатели декодированных событий: stdout, Kafka, Redis
// и websocket-рассылка.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/metrics"
)

// Record: событие и момент, когда его принял слушатель.
type Record struct {
	Event      event.Event
	ReceivedAt time.Time
}

// Sink: получатель записей. Write вызывается из одной горутины конвейера.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Multi рассылает запись во все sink-и. Ошибка одного sink-а не мешает
// остальным.
type Multi struct {
	sinks []Sink
	log   *logger.Logger
}

func NewMulti(log *logger.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log.Named("sink")}
}

func (m *Multi) Name() string { return "multi" }

// Len: число подключённых sink-ов.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Write(ctx, rec)
		if err != nil {
			metrics.SinkWrites.WithLabelValues(s.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.SinkWrites.WithLabelValues(s.Name(), "ok").Inc()
		metrics.SinkLatency.WithLabelValues(s.Name()).Observe(time.Since(rec.ReceivedAt).Seconds())
	}
	return errors.Join(errs...)
}

// Close закрывает sink-и в обратном порядке.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		s := m.sinks[i]
		if err := s.Close(); err != nil {
			m.log.Error("sink close failed", zap.String("sink", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.log.Info("sink closed", zap.String("sink", s.Name()))
	}
	return errors.Join(errs...)
}
