// pkg/dxfeed/native/sim/sim.go
//
// Пакет sim содержит симулятор нативной библиотеки dxFeed внутри процесса.
// Используется тестами как mock-endpoint и сервисом в режиме --simulate.
package sim

import (
	"errors"
	"sort"
	"sync"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// Имена операций для FailNext.
const (
	OpConnect            = "connect"
	OpCloseConnection    = "close_connection"
	OpCreateSubscription = "create_subscription"
	OpCloseSubscription  = "close_subscription"
	OpAttach             = "attach"
	OpDetach             = "detach"
	OpAddSymbols         = "add_symbols"
	OpRemoveSymbols      = "remove_symbols"
)

// Library реализует native.Library без сети.
type Library struct {
	mu sync.Mutex

	lastHandle  uintptr
	conns       map[native.ConnHandle]*conn
	subs        map[native.SubHandle]*sub
	sinks       map[native.Token]native.Sink // все когда-либо подключённые, для DeliverTo
	closeCounts map[native.ConnHandle]int

	unreachable map[string]bool
	rejectAuth  bool
	failNext    map[string]error
}

var _ native.Library = (*Library)(nil)

type conn struct {
	h       native.ConnHandle
	address string
	hooks   native.ConnHooks
	status  native.Status
	subs    map[native.SubHandle]*sub

	// «поток доставки» соединения
	mu     sync.Mutex
	closed bool
	queue  chan func()
	done   chan struct{}
}

type sub struct {
	h         native.SubHandle
	conn      *conn
	kinds     int32
	symbols   map[string]struct{}
	listeners map[native.Token]native.Sink
}

type delivery struct {
	token native.Token
	sink  native.Sink
}

// New создаёт пустой симулятор.
func New() *Library {
	return &Library{
		conns:       make(map[native.ConnHandle]*conn),
		subs:        make(map[native.SubHandle]*sub),
		sinks:       make(map[native.Token]native.Sink),
		closeCounts: make(map[native.ConnHandle]int),
		unreachable: make(map[string]bool),
		failNext:    make(map[string]error),
	}
}

// -----------------------------------------------------------------------------
// Failure injection
// -----------------------------------------------------------------------------

// Unreachable делает адрес недоступным для Connect.
func (l *Library) Unreachable(address string) {
	l.mu.Lock()
	l.unreachable[address] = true
	l.mu.Unlock()
}

// RejectAuth заставляет Connect отклонять авторизацию.
func (l *Library) RejectAuth(reject bool) {
	l.mu.Lock()
	l.rejectAuth = reject
	l.mu.Unlock()
}

// FailNext заставляет следующий вызов op вернуть err.
func (l *Library) FailNext(op string, err error) {
	l.mu.Lock()
	l.failNext[op] = err
	l.mu.Unlock()
}

func (l *Library) injected(op string) error {
	err, ok := l.failNext[op]
	if !ok {
		return nil
	}
	delete(l.failNext, op)
	var ne *native.Error
	if errors.As(err, &ne) {
		return err
	}
	return &native.Error{Op: op, Code: native.CodeInternal, Message: err.Error()}
}

func (l *Library) handle() uintptr {
	l.lastHandle++
	return l.lastHandle
}

// -----------------------------------------------------------------------------
// native.Library
// -----------------------------------------------------------------------------

func (l *Library) Connect(address string, creds *native.Credentials, hooks native.ConnHooks) (native.ConnHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpConnect); err != nil {
		return 0, err
	}
	if address == "" {
		return 0, &native.Error{Op: OpConnect, Code: native.CodeInvalidArgument, Message: "empty address"}
	}
	if l.unreachable[address] {
		return 0, &native.Error{Op: OpConnect, Code: native.CodeConnect, Message: "connection refused: " + address}
	}
	if l.rejectAuth {
		return 0, &native.Error{Op: OpConnect, Code: native.CodeAuth, Message: "authorization rejected"}
	}

	c := &conn{
		h:       native.ConnHandle(l.handle()),
		address: address,
		hooks:   hooks,
		status:  native.StatusConnected,
		subs:    make(map[native.SubHandle]*sub),
		queue:   make(chan func(), 1024),
		done:    make(chan struct{}),
	}
	l.conns[c.h] = c
	go c.run()

	c.post(func() { notifyStatus(hooks, native.StatusNotConnected, native.StatusConnected) })
	if creds != nil && (creds.User != "" || creds.Token != "") {
		c.status = native.StatusAuthorized
		c.post(func() { notifyStatus(hooks, native.StatusConnected, native.StatusAuthorized) })
	}
	return c.h, nil
}

func (l *Library) CloseConnection(h native.ConnHandle) error {
	l.mu.Lock()
	l.closeCounts[h]++
	if err := l.injected(OpCloseConnection); err != nil {
		l.mu.Unlock()
		return err
	}
	c, ok := l.conns[h]
	if !ok {
		l.mu.Unlock()
		return &native.Error{Op: OpCloseConnection, Code: native.CodeInvalidHandle, Message: "unknown connection handle"}
	}
	delete(l.conns, h)
	for sh := range c.subs {
		delete(l.subs, sh)
	}
	l.mu.Unlock()

	// Как и настоящая библиотека, закрытие ждёт завершения потока доставки.
	c.stop()
	return nil
}

func (l *Library) CreateSubscription(h native.ConnHandle, kinds int32) (native.SubHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpCreateSubscription); err != nil {
		return 0, err
	}
	c, ok := l.conns[h]
	if !ok {
		return 0, &native.Error{Op: OpCreateSubscription, Code: native.CodeInvalidHandle, Message: "unknown connection handle"}
	}
	if kinds == 0 || kinds&^native.ETAll != 0 {
		return 0, &native.Error{Op: OpCreateSubscription, Code: native.CodeInvalidArgument, Message: "invalid event types"}
	}
	s := &sub{
		h:         native.SubHandle(l.handle()),
		conn:      c,
		kinds:     kinds,
		symbols:   make(map[string]struct{}),
		listeners: make(map[native.Token]native.Sink),
	}
	l.subs[s.h] = s
	c.subs[s.h] = s
	return s.h, nil
}

func (l *Library) CloseSubscription(h native.SubHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpCloseSubscription); err != nil {
		return err
	}
	s, ok := l.subs[h]
	if !ok {
		return &native.Error{Op: OpCloseSubscription, Code: native.CodeInvalidHandle, Message: "unknown subscription handle"}
	}
	delete(l.subs, h)
	delete(s.conn.subs, h)
	return nil
}

func (l *Library) AttachListener(h native.SubHandle, token native.Token, sink native.Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpAttach); err != nil {
		return err
	}
	s, ok := l.subs[h]
	if !ok {
		return &native.Error{Op: OpAttach, Code: native.CodeInvalidHandle, Message: "unknown subscription handle"}
	}
	s.listeners[token] = sink
	l.sinks[token] = sink
	return nil
}

func (l *Library) DetachListener(h native.SubHandle, token native.Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(OpDetach); err != nil {
		return err
	}
	s, ok := l.subs[h]
	if !ok {
		return &native.Error{Op: OpDetach, Code: native.CodeInvalidHandle, Message: "unknown subscription handle"}
	}
	delete(s.listeners, token)
	return nil
}

func (l *Library) AddSymbols(h native.SubHandle, symbols []string) error {
	return l.editSymbols(OpAddSymbols, h, symbols, func(s *sub, sym string) { s.symbols[sym] = struct{}{} })
}

func (l *Library) RemoveSymbols(h native.SubHandle, symbols []string) error {
	return l.editSymbols(OpRemoveSymbols, h, symbols, func(s *sub, sym string) { delete(s.symbols, sym) })
}

func (l *Library) editSymbols(op string, h native.SubHandle, symbols []string, apply func(*sub, string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.injected(op); err != nil {
		return err
	}
	s, ok := l.subs[h]
	if !ok {
		return &native.Error{Op: op, Code: native.CodeInvalidHandle, Message: "unknown subscription handle"}
	}
	for _, sym := range symbols {
		if sym == "" {
			return &native.Error{Op: op, Code: native.CodeInvalidArgument, Message: "empty symbol"}
		}
	}
	for _, sym := range symbols {
		apply(s, sym)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

// Publish синхронно доставляет rec всем подключённым слушателям,
// чьи подписки содержат символ и тип записи. Вызывающий играет роль
// нативного потока. Возвращает число доставок.
func (l *Library) Publish(rec *native.Record) int {
	l.mu.Lock()
	targets := l.matchLocked(nil, rec)
	l.mu.Unlock()
	return deliverAll(targets, rec)
}

// DeliverTo доставляет rec получателю токена, даже если слушатель уже
// отключён: так выглядит доставка, запланированная до отключения.
func (l *Library) DeliverTo(token native.Token, rec *native.Record) bool {
	l.mu.Lock()
	sink, ok := l.sinks[token]
	l.mu.Unlock()
	if !ok {
		return false
	}
	sink.Deliver(token, rec)
	return true
}

// publishOn доставляет rec подпискам соединения на его потоке.
func (l *Library) publishOn(c *conn, rec *native.Record) {
	c.post(func() {
		l.mu.Lock()
		targets := l.matchLocked(c, rec)
		l.mu.Unlock()
		deliverAll(targets, rec)
	})
}

func (l *Library) matchLocked(only *conn, rec *native.Record) []delivery {
	sym := string([]rune(rec.Symbol))
	var out []delivery
	for _, s := range l.subs {
		if only != nil && s.conn != only {
			continue
		}
		if s.kinds&rec.Kind == 0 {
			continue
		}
		if _, ok := s.symbols[sym]; !ok {
			continue
		}
		for tok, sink := range s.listeners {
			out = append(out, delivery{token: tok, sink: sink})
		}
	}
	return out
}

func deliverAll(targets []delivery, rec *native.Record) int {
	for _, d := range targets {
		d.sink.Deliver(d.token, rec)
	}
	return len(targets)
}

// Terminate эмулирует обрыв соединения сервером: статус падает в
// NotConnected и срабатывает уведомление о завершении.
func (l *Library) Terminate(h native.ConnHandle) bool {
	l.mu.Lock()
	c, ok := l.conns[h]
	var old native.Status
	if ok {
		old = c.status
		c.status = native.StatusNotConnected
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	c.post(func() {
		notifyStatus(c.hooks, old, native.StatusNotConnected)
		if c.hooks != nil {
			c.hooks.OnTermination()
		}
	})
	return true
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// CloseCount: сколько раз вызывался CloseConnection для h.
func (l *Library) CloseCount(h native.ConnHandle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCounts[h]
}

// OpenConnections: число открытых соединений.
func (l *Library) OpenConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// OpenSubscriptions: число открытых нативных подписок.
func (l *Library) OpenSubscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Listeners: число подключённых слушателей по всем подпискам.
func (l *Library) Listeners() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.subs {
		n += len(s.listeners)
	}
	return n
}

// SymbolsOf возвращает отсортированные символы подписки.
func (l *Library) SymbolsOf(h native.SubHandle) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.subs[h]
	if !ok {
		return nil
	}
	return sortedSymbols(s)
}

// Connections возвращает хендлы открытых соединений.
func (l *Library) Connections() []native.ConnHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]native.ConnHandle, 0, len(l.conns))
	for h := range l.conns {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedSymbols(s *sub) []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------
// Поток доставки соединения
// -----------------------------------------------------------------------------

func (c *conn) run() {
	defer close(c.done)
	for fn := range c.queue {
		fn()
	}
}

func (c *conn) post(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.queue <- fn
	return true
}

func (c *conn) stop() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}

func notifyStatus(h native.ConnHooks, old, new native.Status) {
	if h != nil && old != new {
		h.OnStatusChange(old, new)
	}
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// NewRecord собирает запись из зеркала нативной структуры.
func NewRecord[T any](kind int32, symbol string, raw T, strings ...string) *native.Record {
	rec := &native.Record{
		Kind:   kind,
		Symbol: native.WString([]rune(symbol)),
		Body:   native.Encode(raw),
	}
	for _, s := range strings {
		rec.Strings = append(rec.Strings, native.WString([]rune(s)))
	}
	return rec
}
