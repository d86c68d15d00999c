// common/safe/safe.go
package safe

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
)

// Group: аналог errgroup.Group с защитой от panic.
type Group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
	log    *logger.Logger

	errOnce sync.Once
	err     error
}

// New создает группу с контекстом и логгером.
func New(ctx context.Context, log *logger.Logger) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("safe"),
	}
}

// Go запускает защищённую goroutine. Первая ошибка или panic
// отменяет контекст группы.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.recoverPanic()
		if err := fn(g.ctx); err != nil && g.ctx.Err() == nil {
			g.log.Error("goroutine error", zap.Error(err))
			g.fail(err)
		}
	}()
}

// Stop отменяет контекст группы и ждёт завершения goroutine.
func (g *Group) Stop() error {
	g.cancel()
	return g.Wait()
}

// Wait блокирует до завершения всех goroutine и возвращает первую ошибку.
func (g *Group) Wait() error {
	g.wg.Wait()
	return g.err
}

// Context возвращает связанный контекст.
func (g *Group) Context() context.Context {
	return g.ctx
}

func (g *Group) fail(err error) {
	g.errOnce.Do(func() { g.err = err })
	g.cancel()
}

// recoverPanic ловит панику и логирует её.
func (g *Group) recoverPanic() {
	if r := recover(); r != nil {
		g.log.Error("panic recovered", zap.Any("error", r), zap.Stack("stack"))
		g.fail(fmt.Errorf("safe: panic: %v", r))
	}
}
