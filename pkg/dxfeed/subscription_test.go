package dxfeed_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native/sim"
)

func TestSubscribe_AAPLQuoteDeliveredOnce(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())

	if n := lib.Publish(aaplQuote()); n != 1 {
		t.Fatalf("expected one native delivery, got %d", n)
	}
	evs, errs := rec.snapshot()
	if len(evs) != 1 || len(errs) != 0 {
		t.Fatalf("expected exactly one event, got %d events, %d errors", len(evs), len(errs))
	}
	q, ok := evs[0].(*event.Quote)
	if !ok {
		t.Fatalf("expected *event.Quote, got %T", evs[0])
	}
	bid, _ := q.BidPrice.Get()
	ask, _ := q.AskPrice.Get()
	bidSize, _ := q.BidSize.Get()
	askSize, _ := q.AskSize.Get()
	ex, _ := q.AskExchange.Get()
	if q.Symbol != "AAPL" || bid != 150.25 || ask != 150.27 || bidSize != 100 || askSize != 200 || ex != 'T' {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	tests := []struct {
		name    string
		kinds   event.Kind
		symbols []string
		cause   error
	}{
		{"empty symbol", event.KindQuote, []string{""}, dxfeed.ErrInvalidSymbol},
		{"whitespace", event.KindQuote, []string{"AA PL"}, dxfeed.ErrInvalidSymbol},
		{"control char", event.KindQuote, []string{"AAPL\x01"}, dxfeed.ErrInvalidSymbol},
		{"too long", event.KindQuote, []string{strings.Repeat("A", event.DefaultMaxSymbolLen+1)}, dxfeed.ErrInvalidSymbol},
		{"no kinds", 0, []string{"AAPL"}, dxfeed.ErrInvalidEventKind},
		{"unknown kind bits", event.KindQuote | 1<<20, []string{"AAPL"}, dxfeed.ErrInvalidEventKind},
	}
	lib := sim.New()
	conn := connect(t, lib)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := conn.Subscribe(context.Background(), tc.kinds, tc.symbols, newRecorder())
			var se *dxfeed.SubscriptionError
			if !errors.As(err, &se) || !errors.Is(err, tc.cause) {
				t.Fatalf("expected SubscriptionError(%v), got %v", tc.cause, err)
			}
		})
	}
	if conn.Subscriptions() != 0 || lib.OpenSubscriptions() != 0 {
		t.Errorf("rejected subscriptions left state behind")
	}
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, nil, nil); !errors.Is(err, dxfeed.ErrNilListener) {
		t.Errorf("expected ErrNilListener, got %v", err)
	}
}

func TestSubscribe_RegistryFull(t *testing.T) {
	lib := sim.New()
	conn, err := dxfeed.Connect(context.Background(), dxfeed.Config{Address: testAddress, MaxSubscriptions: 1}, lib, logger.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect(context.Background())

	first, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, newRecorder())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"MSFT"}, newRecorder()); !errors.Is(err, dxfeed.ErrRegistryFull) {
		t.Fatalf("expected ErrRegistryFull, got %v", err)
	}
	first.Close(context.Background())
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"MSFT"}, newRecorder()); err != nil {
		t.Fatalf("slot must be free after Close: %v", err)
	}
}

func TestSubscribe_NativeFailureRollsBack(t *testing.T) {
	for _, op := range []string{sim.OpCreateSubscription, sim.OpAttach, sim.OpAddSymbols} {
		t.Run(op, func(t *testing.T) {
			lib := sim.New()
			conn := connect(t, lib)
			lib.FailNext(op, &native.Error{Op: op, Code: native.CodeInternal, Message: "injected"})

			_, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, newRecorder())
			var se *dxfeed.SubscriptionError
			if !errors.As(err, &se) {
				t.Fatalf("expected SubscriptionError, got %v", err)
			}
			if _, ok := native.CodeOf(err); !ok {
				t.Errorf("native error must stay in the chain: %v", err)
			}
			if lib.OpenSubscriptions() != 0 || lib.Listeners() != 0 || conn.Subscriptions() != 0 {
				t.Errorf("rollback incomplete: subs=%d listeners=%d registry=%d",
					lib.OpenSubscriptions(), lib.Listeners(), conn.Subscriptions())
			}
		})
	}
}

func TestSubscription_AddRemoveSymbols(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())

	if err := sub.AddSymbols(context.Background(), "MSFT", "IBM", "MSFT"); err != nil {
		t.Fatalf("AddSymbols: %v", err)
	}
	if got := strings.Join(sub.Symbols(), ","); got != "AAPL,IBM,MSFT" {
		t.Errorf("Symbols: %s", got)
	}
	if n := lib.Publish(sim.NewRecord(native.ETQuote, "MSFT", native.RawQuote{})); n != 1 {
		t.Errorf("MSFT delivery: %d", n)
	}
	if err := sub.RemoveSymbols(context.Background(), "MSFT"); err != nil {
		t.Fatalf("RemoveSymbols: %v", err)
	}
	if n := lib.Publish(sim.NewRecord(native.ETQuote, "MSFT", native.RawQuote{})); n != 0 {
		t.Errorf("MSFT must be removed, got %d deliveries", n)
	}
	if err := sub.AddSymbols(context.Background(), "bad symbol"); !errors.Is(err, dxfeed.ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}
	if sub.Kinds() != event.KindQuote {
		t.Errorf("Kinds: %v", sub.Kinds())
	}
}

func TestClose_NoDeliveryAfterClose(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	tok := sub.Token()

	sub.Close(context.Background())
	sub.Close(context.Background())

	if !lib.DeliverTo(tok, aaplQuote()) {
		t.Fatal("sim must still route the stale token")
	}
	evs, errs := rec.snapshot()
	if len(evs) != 0 || len(errs) != 0 {
		t.Errorf("listener invoked after Close: %d events, %d errors", len(evs), len(errs))
	}
	if lib.OpenSubscriptions() != 0 || lib.Listeners() != 0 || conn.Subscriptions() != 0 {
		t.Errorf("Close left resources: subs=%d listeners=%d registry=%d",
			lib.OpenSubscriptions(), lib.Listeners(), conn.Subscriptions())
	}
	if err := sub.AddSymbols(context.Background(), "IBM"); !errors.Is(err, dxfeed.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClose_RacesDeliveries(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)

	var closeReturned atomic.Bool
	var violations atomic.Int64
	l := dxfeed.ListenerFuncs{Event: func(context.Context, event.Event) {
		if closeReturned.Load() {
			violations.Add(1)
		}
	}}
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	tok := sub.Token()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					lib.DeliverTo(tok, aaplQuote())
				}
			}
		}()
	}

	sub.Close(context.Background())
	closeReturned.Store(true)
	for i := 0; i < 100; i++ {
		lib.DeliverTo(tok, aaplQuote())
	}
	close(stop)
	wg.Wait()

	if n := violations.Load(); n != 0 {
		t.Errorf("%d listener invocations started after Close returned", n)
	}
}

func TestClose_InsideListener(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	var sub *dxfeed.Subscription
	rec.onEvent = func(ctx context.Context, _ event.Event) { sub.Close(ctx) }

	var err error
	sub, err = conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	lib.Publish(aaplQuote())
	lib.Publish(aaplQuote())

	if evs, _ := rec.snapshot(); len(evs) != 1 {
		t.Errorf("expected one event before close, got %d", len(evs))
	}
	eventually(t, "deferred release", func() bool {
		return lib.OpenSubscriptions() == 0 && conn.Subscriptions() == 0
	})
}

func TestSubscribe_InsideListener(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)

	child := newRecorder()
	var once sync.Once
	var childSub atomic.Pointer[dxfeed.Subscription]
	parent := newRecorder()
	parent.onEvent = func(ctx context.Context, _ event.Event) {
		once.Do(func() {
			s, err := conn.Subscribe(ctx, event.KindTrade, []string{"MSFT"}, child)
			if err != nil {
				t.Errorf("deferred Subscribe: %v", err)
				return
			}
			childSub.Store(s)
		})
	}
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, parent); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	lib.Publish(aaplQuote())
	eventually(t, "deferred subscription", func() bool { return lib.OpenSubscriptions() == 2 && lib.Listeners() == 2 })

	lib.Publish(sim.NewRecord(native.ETTrade, "MSFT", native.RawTrade{Price: 410.5}))
	child.wait(t)
	if s := childSub.Load(); s == nil || strings.Join(s.Symbols(), ",") != "MSFT" {
		t.Errorf("unexpected child subscription: %v", s)
	}
}

func TestSubscribe_InsideListenerFailureReachesOnError(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)

	child := newRecorder()
	var once sync.Once
	parent := newRecorder()
	parent.onEvent = func(ctx context.Context, _ event.Event) {
		once.Do(func() {
			lib.FailNext(sim.OpCreateSubscription, &native.Error{Op: "create_subscription", Code: native.CodeInternal, Message: "no memory"})
			if _, err := conn.Subscribe(ctx, event.KindTrade, []string{"MSFT"}, child); err != nil {
				t.Errorf("deferred Subscribe must validate only: %v", err)
			}
		})
	}
	if _, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, parent); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	lib.Publish(aaplQuote())

	child.wait(t)
	_, errs := child.snapshot()
	var se *dxfeed.SubscriptionError
	if len(errs) != 1 || !errors.As(errs[0], &se) {
		t.Fatalf("expected one SubscriptionError, got %v", errs)
	}
	eventually(t, "registry cleanup", func() bool { return conn.Subscriptions() == 1 })
}

func TestDelivery_DecodeErrorThenEvent(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	rec := newRecorder()
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, rec)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())

	lib.Publish(sim.NewRecord(native.ETQuote, "AAPL", native.RawQuote{BidPrice: math.Inf(1)}))
	lib.Publish(aaplQuote())

	evs, errs := rec.snapshot()
	if len(errs) != 1 || len(evs) != 1 {
		t.Fatalf("expected 1 error and 1 event, got %d/%d", len(errs), len(evs))
	}
	var de *dxfeed.DecodeError
	if !errors.As(errs[0], &de) || de.Reason != event.ReasonCorruptSentinel || de.Field != "bid_price" {
		t.Errorf("unexpected decode error: %v", errs[0])
	}
}

func TestDelivery_PanickingListener(t *testing.T) {
	lib := sim.New()
	conn := connect(t, lib)
	var calls atomic.Int64
	l := dxfeed.ListenerFuncs{Event: func(context.Context, event.Event) {
		if calls.Add(1) == 1 {
			panic("listener bug")
		}
	}}
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, l)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())

	lib.Publish(aaplQuote())
	lib.Publish(aaplQuote())
	if calls.Load() != 2 {
		t.Errorf("delivery must survive a panicking listener, calls=%d", calls.Load())
	}
}

func TestInDelivery(t *testing.T) {
	if dxfeed.InDelivery(context.Background()) {
		t.Error("background context is not a delivery context")
	}
	lib := sim.New()
	conn := connect(t, lib)
	var seen atomic.Bool
	sub, err := conn.Subscribe(context.Background(), event.KindQuote, []string{"AAPL"}, dxfeed.ListenerFuncs{
		Event: func(ctx context.Context, _ event.Event) { seen.Store(dxfeed.InDelivery(ctx)) },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close(context.Background())
	lib.Publish(aaplQuote())
	if !seen.Load() {
		t.Error("listener context must be marked as delivery")
	}
}
