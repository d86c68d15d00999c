package dxfeed_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native/sim"
)

func TestConnect_Failures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(lib *sim.Library)
		cfg    dxfeed.Config
		nilLib bool
		cause  error
	}{
		{"unreachable", func(l *sim.Library) { l.Unreachable(testAddress) }, dxfeed.Config{Address: testAddress}, false, dxfeed.ErrUnreachable},
		{"auth rejected", func(l *sim.Library) { l.RejectAuth(true) },
			dxfeed.Config{Address: testAddress, Credentials: dxfeed.Credentials{User: "demo", Password: "demo"}}, false, dxfeed.ErrAuthRejected},
		{"native failure", func(l *sim.Library) { l.FailNext(sim.OpConnect, errors.New("init")) }, dxfeed.Config{Address: testAddress}, false, dxfeed.ErrNativeInit},
		{"library not linked", func(*sim.Library) {}, dxfeed.Config{Address: testAddress}, true, dxfeed.ErrNativeInit},
		{"empty address", func(*sim.Library) {}, dxfeed.Config{}, false, dxfeed.ErrInvalidConfig},
		{"mixed credentials", func(*sim.Library) {},
			dxfeed.Config{Address: testAddress, Credentials: dxfeed.Credentials{User: "u", Token: "t"}}, false, dxfeed.ErrInvalidConfig},
		{"string limit above scan cap", func(*sim.Library) {},
			dxfeed.Config{Address: testAddress, MaxStringLen: native.MaxStringScan + 1}, false, dxfeed.ErrInvalidConfig},
		{"symbol limit above scan cap", func(*sim.Library) {},
			dxfeed.Config{Address: testAddress, MaxSymbolLen: 1 << 20}, false, dxfeed.ErrInvalidConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lib := sim.New()
			tc.setup(lib)
			var nl native.Library = lib
			if tc.nilLib {
				nl = nil
			}
			conn, err := dxfeed.Connect(context.Background(), tc.cfg, nl, logger.Nop())
			if conn != nil {
				t.Fatal("expected nil connection")
			}
			var ce *dxfeed.ConnectionError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConnectionError, got %v", err)
			}
			if !errors.Is(err, tc.cause) {
				t.Errorf("expected cause %v, got %v", tc.cause, err)
			}
			if lib.OpenConnections() != 0 {
				t.Errorf("failed connect left %d open handles", lib.OpenConnections())
			}
		})
	}
}

func TestConnect_RetriesOnlyUnreachable(t *testing.T) {
	lib := sim.New()
	lib.FailNext(sim.OpConnect, &native.Error{Op: "connect", Code: native.CodeConnect, Message: "refused"})
	cfg := dxfeed.Config{
		Address: testAddress,
		Backoff: backoff.Config{InitialInterval: time.Millisecond, Multiplier: 1, MaxRetries: 3},
	}
	conn, err := dxfeed.Connect(context.Background(), cfg, lib, logger.Nop())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	conn.Disconnect(context.Background())

	lib.RejectAuth(true)
	start := time.Now()
	cfg.Backoff.InitialInterval = 200 * time.Millisecond
	_, err = dxfeed.Connect(context.Background(), cfg, lib, logger.Nop())
	if !errors.Is(err, dxfeed.ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("auth rejection must not be retried")
	}
}

func TestConnect_CancelledContextReleasesHandle(t *testing.T) {
	lib := sim.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dxfeed.Connect(ctx, dxfeed.Config{Address: testAddress}, lib, logger.Nop())
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if lib.OpenConnections() != 0 {
		t.Errorf("handle leaked after cancelled connect")
	}
}

func TestDisconnect_ReleasesExactlyOnce(t *testing.T) {
	lib := sim.New()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{Address: testAddress}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h := lib.Connections()[0]
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, newRecorder()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Disconnect(context.Background())
		}()
	}
	wg.Wait()
	conn.Disconnect(context.Background())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done must be closed after Disconnect")
	}
	if n := lib.CloseCount(h); n != 1 {
		t.Errorf("expected exactly one native close, got %d", n)
	}
	if lib.OpenSubscriptions() != 0 || lib.Listeners() != 0 {
		t.Errorf("subscriptions leaked: %d open, %d listeners", lib.OpenSubscriptions(), lib.Listeners())
	}
	if conn.Alive() {
		t.Error("connection must not be alive")
	}
}

func TestDisconnect_InvalidatesSubscriptions(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	tok := sub.Token()

	conn.Disconnect(context.Background())

	err = sub.AddSymbols(context.Background(), "MSFT")
	var uac *dxfeed.UseAfterCloseError
	if !errors.As(err, &uac) || !errors.Is(err, dxfeed.ErrClosed) {
		t.Fatalf("expected UseAfterCloseError, got %v", err)
	}
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec); !errors.As(err, &uac) {
		t.Errorf("Subscribe after Disconnect: expected UseAfterCloseError, got %v", err)
	}
	if !sub.Closed() {
		t.Error("subscription must report closed")
	}

	lib.DeliverTo(tok, aaplQuote())
	if evs, errs := rec.snapshot(); len(evs)+len(errs) != 0 {
		t.Errorf("listener invoked after Disconnect: %d events, %d errors", len(evs), len(errs))
	}
	sub.Close(context.Background())
}

func TestDisconnect_InsideListener(t *testing.T) {
	lib := sim.New()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{Address: testAddress}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h := lib.Connections()[0]
	rec := newRecorder()
	rec.onEvent = func(ctx context.Context, _ event.Event) { conn.Disconnect(ctx) }
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	lib.Publish(aaplQuote())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete")
	}
	if lib.CloseCount(h) != 1 {
		t.Errorf("expected one native close, got %d", lib.CloseCount(h))
	}
}

func TestStatusAndTermination(t *testing.T) {
	lib := sim.New()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{
		Address:     testAddress,
		Credentials: dxfeed.Credentials{Token: "bearer"},
	}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect(context.Background())

	eventually(t, "authorized status", func() bool { return conn.Status() == dxfeed.StatusAuthorized })
	if conn.ID() == "" || conn.Address() != testAddress {
		t.Errorf("unexpected id/address: %q %q", conn.ID(), conn.Address())
	}

	lib.Terminate(lib.Connections()[0])
	select {
	case <-conn.Terminated():
	case <-time.After(2 * time.Second):
		t.Fatal("Terminated not closed")
	}
	eventually(t, "not connected status", func() bool { return conn.Status() == dxfeed.StatusNotConnected })
}

// subscribeOnly подключается и возвращает только подписку: Connection
// после выхода недостижим.
func subscribeOnly(t *testing.T, lib *sim.Library, l dxfeed.Listener) *dxfeed.Subscription {
	t.Helper()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{Address: testAddress}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return sub
}

func TestFinalizer_HeldSubscriptionKeepsConnectionAlive(t *testing.T) {
	lib := sim.New()
	rec := newRecorder()
	sub := subscribeOnly(t, lib, rec)

	for i := 0; i < 5; i++ {
		runtime.GC()
	}
	time.Sleep(20 * time.Millisecond)

	if n := lib.Publish(aaplQuote()); n != 1 {
		t.Fatalf("expected delivery to 1 listener, got %d", n)
	}
	rec.wait(t)
	if sub.Closed() {
		t.Fatal("subscription closed while still referenced")
	}
	if lib.OpenConnections() != 1 || lib.OpenSubscriptions() != 1 {
		t.Fatalf("expected live handles, got conns=%d subs=%d", lib.OpenConnections(), lib.OpenSubscriptions())
	}
	sub.Close(context.Background())
	runtime.KeepAlive(sub)
}

func TestFinalizer_ReleasesUnreachableConnection(t *testing.T) {
	lib := sim.New()
	func() {
		_ = subscribeOnly(t, lib, newRecorder())
	}()

	eventually(t, "finalizer teardown", func() bool {
		runtime.GC()
		return lib.OpenConnections() == 0 && lib.OpenSubscriptions() == 0
	})
	if lib.Listeners() != 0 {
		t.Errorf("finalizer left %d routed listeners", lib.Listeners())
	}
}

func TestRegisterMetrics_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	dxfeed.RegisterMetrics(reg)
	dxfeed.RegisterMetrics(reg)
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}
