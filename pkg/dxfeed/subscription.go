package dxfeed

import (
	"context"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// Subscription: подписка слушателя на набор типов и символов.
//
// Подписка держит владельца соединения: пока достижима хотя бы одна
// подписка, финализатор Connection не сработает.
type Subscription struct {
	*subscription
	owner *Connection
}

type subscription struct {
	conn  *connection
	token native.Token
	kinds event.Kind
	entry *entry

	// opMu сериализует нативные вызовы по хендлу. Никогда не
	// захватывается на потоке доставки.
	opMu sync.Mutex

	// mu защищает handle и symbols и не удерживается во время
	// нативных вызовов.
	mu      sync.Mutex
	handle  native.SubHandle // 0: ещё не создана или уже освобождена
	symbols map[string]struct{}

	closeOnce   sync.Once
	releaseOnce sync.Once
}

func newSubscription(c *connection, kinds event.Kind, symbols []string, l Listener) *subscription {
	s := &subscription{
		conn:    c,
		token:   native.NewToken(),
		kinds:   kinds,
		symbols: make(map[string]struct{}, len(symbols)),
	}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}
	s.entry = &entry{
		sub:      s,
		listener: l,
		ctx:      withDelivery(context.Background()),
	}
	return s
}

// Token: токен корреляции подписки.
func (s *subscription) Token() native.Token { return s.token }

// Kinds: типы событий подписки.
func (s *subscription) Kinds() event.Kind { return s.kinds }

// Closed сообщает, что подписка закрыта (явно или через Disconnect).
func (s *subscription) Closed() bool { return s.entry.closed.Load() }

// Symbols возвращает отсортированную копию набора символов.
func (s *subscription) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *subscription) usable() bool {
	return !s.entry.closed.Load() && s.conn.alive.Load()
}

func (s *subscription) snapshotSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// -----------------------------------------------------------------------------
// Создание
// -----------------------------------------------------------------------------

// open создаёт нативную подписку: create → attach → add symbols.
// При ошибке всё, что успели получить, освобождается, а токен
// удаляется из реестра.
func (s *subscription) open() error {
	const op = "subscribe"
	c := s.conn
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.usable() {
		c.reg.remove(s.token)
		return &UseAfterCloseError{Op: op, Resource: "subscription"}
	}

	h, err := c.lib.CreateSubscription(c.handle, int32(s.kinds))
	if err != nil {
		s.abort()
		return &SubscriptionError{Op: op, Err: err}
	}
	if err := c.lib.AttachListener(h, s.token, c.reg); err != nil {
		s.releaseNative(h, false)
		s.abort()
		return &SubscriptionError{Op: op, Err: err}
	}
	if syms := s.snapshotSymbols(); len(syms) > 0 {
		if err := c.lib.AddSymbols(h, syms); err != nil {
			s.releaseNative(h, true)
			s.abort()
			return &SubscriptionError{Op: op, Err: err}
		}
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	return nil
}

// openDeferred выполняется управляющим циклом для Subscribe из
// контекста доставки.
func (s *subscription) openDeferred() {
	err := s.open()
	if err == nil {
		return
	}
	s.conn.log.Warn("deferred subscribe failed",
		zap.Uint64("token", uint64(s.token)),
		zap.Error(err),
	)
	s.conn.reg.notify(s.token, s.entry, err)
	s.entry.closed.Store(true)
}

// abort снимает токен с реестра после неудачного создания.
func (s *subscription) abort() {
	s.conn.reg.remove(s.token)
}

// -----------------------------------------------------------------------------
// Символы
// -----------------------------------------------------------------------------

// AddSymbols добавляет символы в подписку.
func (s *subscription) AddSymbols(ctx context.Context, symbols ...string) error {
	return s.editSymbols(ctx, "add_symbols", symbols, true)
}

// RemoveSymbols удаляет символы из подписки.
func (s *subscription) RemoveSymbols(ctx context.Context, symbols ...string) error {
	return s.editSymbols(ctx, "remove_symbols", symbols, false)
}

func (s *subscription) editSymbols(ctx context.Context, op string, symbols []string, add bool) error {
	if !s.usable() {
		return &UseAfterCloseError{Op: op, Resource: "subscription"}
	}
	syms, err := s.conn.validateSymbols(op, symbols)
	if err != nil {
		return err
	}
	if len(syms) == 0 {
		return nil
	}

	s.mu.Lock()
	pending := s.handle == 0
	s.mu.Unlock()

	if InDelivery(ctx) || pending {
		s.applySymbols(syms, add)
		if !s.conn.loop.enqueue(op, func() { s.nativeSymbols(op, syms, add) }) {
			return &UseAfterCloseError{Op: op, Resource: "subscription"}
		}
		return nil
	}

	if err := s.nativeSymbols(op, syms, add); err != nil {
		return err
	}
	s.applySymbols(syms, add)
	return nil
}

func (s *subscription) applySymbols(syms []string, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range syms {
		if add {
			s.symbols[sym] = struct{}{}
		} else {
			delete(s.symbols, sym)
		}
	}
}

func (s *subscription) nativeSymbols(op string, syms []string, add bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == 0 || s.entry.closed.Load() {
		// подписка освобождена или ещё создаётся; набор символов уже
		// учтён и попадёт в нативную подписку при создании
		if s.entry.closed.Load() {
			return &UseAfterCloseError{Op: op, Resource: "subscription"}
		}
		return nil
	}

	var err error
	if add {
		err = s.conn.lib.AddSymbols(h, syms)
	} else {
		err = s.conn.lib.RemoveSymbols(h, syms)
	}
	if err != nil {
		s.conn.log.Warn("native symbols update failed", zap.String("op", op), zap.Error(err))
		return &SubscriptionError{Op: op, Err: err}
	}
	return nil
}

// validateSymbols проверяет и дедуплицирует символы.
func (c *connection) validateSymbols(op string, symbols []string) ([]string, error) {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if !validSymbol(sym, c.cfg.MaxSymbolLen) {
			return nil, &SubscriptionError{Op: op, Symbol: sym, Err: ErrInvalidSymbol}
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out, nil
}

func validSymbol(sym string, maxLen int) bool {
	if sym == "" || !utf8.ValidString(sym) || utf8.RuneCountInString(sym) > maxLen {
		return false
	}
	for _, r := range sym {
		if r == 0 || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Close
// -----------------------------------------------------------------------------

// Close отключает слушателя и освобождает нативную подписку.
// Идемпотентен и не возвращает ошибок. После возврата новые вызовы
// слушателя не начинаются; вне контекста доставки Close также ждёт
// завершения текущего вызова.
func (s *subscription) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.entry.closed.Store(true)
		if InDelivery(ctx) {
			if s.conn.loop.enqueue("close", func() {
				s.drain()
				s.release()
			}) {
				return
			}
			// цикл остановлен: освобождением займётся teardown соединения
			return
		}

		_, span := tracer.Start(ctx, "dxfeed.Subscription.Close")
		defer span.End()
		s.drain()
		s.release()
	})
}

// drain дожидается завершения текущей доставки.
func (s *subscription) drain() {
	s.entry.mu.Lock()
	s.entry.mu.Unlock()
}

// release: detach → close → удаление из реестра. Ровно один раз.
func (s *subscription) release() {
	s.releaseOnce.Do(func() {
		s.opMu.Lock()
		s.mu.Lock()
		h := s.handle
		s.handle = 0
		s.mu.Unlock()
		if h != 0 {
			s.releaseNative(h, true)
		}
		s.opMu.Unlock()

		s.conn.reg.remove(s.token)
		s.conn.log.Debug("subscription closed", zap.Uint64("token", uint64(s.token)))
	})
}

func (s *subscription) releaseNative(h native.SubHandle, attached bool) {
	lib := s.conn.lib
	if attached {
		if err := lib.DetachListener(h, s.token); err != nil {
			metrics.ReleaseErrors.WithLabelValues("detach").Inc()
			s.conn.log.Warn("native detach failed", zap.Uint64("token", uint64(s.token)), zap.Error(err))
		}
	}
	if err := lib.CloseSubscription(h); err != nil {
		metrics.ReleaseErrors.WithLabelValues("close_subscription").Inc()
		s.conn.log.Warn("native close subscription failed", zap.Uint64("token", uint64(s.token)), zap.Error(err))
	}
}
