package dxfeed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
)

// controlLoop выполняет нативную работу, запрошенную из контекста
// доставки, на собственной горутине соединения. Очередь неограничена:
// enqueue никогда не блокирует поток доставки.
type controlLoop struct {
	log *logger.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

func newControlLoop(log *logger.Logger) *controlLoop {
	return &controlLoop{log: log, wake: make(chan struct{}, 1)}
}

// enqueue ставит fn в очередь. false: цикл уже остановлен.
func (l *controlLoop) enqueue(op string, fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	metrics.DeferredOps.WithLabelValues(op).Inc()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// stop останавливает цикл; необработанные операции отбрасываются.
// Можно вызывать из самого цикла.
func (l *controlLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	dropped := len(l.queue)
	l.queue = nil
	l.mu.Unlock()

	if dropped > 0 {
		l.log.Debug("control loop: pending operations dropped", zap.Int("count", dropped))
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run обрабатывает очередь до stop или отмены ctx.
func (l *controlLoop) run(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return nil
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if l.isStopped() {
				return nil
			}
			l.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *controlLoop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *controlLoop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("control loop: panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
