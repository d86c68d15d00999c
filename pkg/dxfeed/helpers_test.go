package dxfeed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native/sim"
)

const testAddress = "demo.dxfeed.com:7300"

// recorder: слушатель, запоминающий всё полученное.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	errs   []error

	// необязательные хуки, вызываются после записи
	onEvent func(ctx context.Context, ev event.Event)
	onError func(ctx context.Context, err error)

	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 256)}
}

func (r *recorder) OnEvent(ctx context.Context, ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onEvent != nil {
		r.onEvent(ctx, ev)
	}
	r.notify()
}

func (r *recorder) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	if r.onError != nil {
		r.onError(ctx, err)
	}
	r.notify()
}

func (r *recorder) notify() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() ([]event.Event, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...), append([]error(nil), r.errs...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for listener invocation")
	}
}

func connect(t *testing.T, lib *sim.Library) *dxfeed.Connection {
	t.Helper()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{Address: testAddress}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect(context.Background()) })
	return conn
}

func aaplQuote() *native.Record {
	return sim.NewRecord(native.ETQuote, "AAPL", native.RawQuote{
		Time:            1_700_000_000_000,
		BidExchangeCode: 'T',
		BidPrice:        150.25,
		BidSize:         100,
		AskExchangeCode: 'T',
		AskPrice:        150.27,
		AskSize:         200,
	})
}

// eventually ждёт выполнения cond не дольше секунды.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
