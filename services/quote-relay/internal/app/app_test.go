package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YaganovValera/dxfeed-go/common/httpserver"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native/sim"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/app"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/config"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/sink"
)

// collector: sink, запоминающий записи.
type collector struct {
	mu     sync.Mutex
	recs   []sink.Record
	closed bool
	err    error
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Write(_ context.Context, rec sink.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return c.err
}

func (c *collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *collector) count(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.recs {
		if r.Event.EventSymbol() == symbol {
			n++
		}
	}
	return n
}

func (c *collector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName: "quote-relay-test",
		Feed: config.FeedConfig{
			Kinds:        "quote",
			Symbols:      []string{"AAPL", "MSFT"},
			Simulate:     true,
			SimInterval:  5 * time.Millisecond,
			TickInterval: time.Hour,
		},
		Pipeline: config.PipelineConfig{BufferSize: 64, WriteTimeout: time.Second},
		HTTP:     httpserver.Config{Addr: "127.0.0.1:0"},
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func start(t *testing.T, lib *sim.Library, out *collector) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Run(ctx, testConfig(), logger.Nop(), app.WithLibrary(lib), app.WithSink(out))
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_SimulatedFeedReachesSinks(t *testing.T) {
	lib := sim.New()
	out := &collector{}
	cancel, errCh := start(t, lib, out)

	eventually(t, "AAPL and MSFT quotes", func() bool { return out.count("AAPL") >= 3 && out.count("MSFT") >= 3 })
	cancel()

	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if lib.OpenConnections() != 0 || lib.OpenSubscriptions() != 0 || lib.Listeners() != 0 {
		t.Errorf("native resources leaked: conns=%d subs=%d listeners=%d",
			lib.OpenConnections(), lib.OpenSubscriptions(), lib.Listeners())
	}
	if !out.isClosed() {
		t.Error("sinks must be closed on shutdown")
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	for _, r := range out.recs {
		q, ok := r.Event.(*event.Quote)
		if !ok {
			t.Fatalf("expected only quotes, got %T", r.Event)
		}
		if r.ReceivedAt.IsZero() || !q.BidPrice.Valid() {
			t.Errorf("incomplete record: %+v", r)
		}
	}
}

func TestRun_TerminationStopsService(t *testing.T) {
	lib := sim.New()
	out := &collector{}
	_, errCh := start(t, lib, out)

	eventually(t, "first event", func() bool { return out.count("AAPL") > 0 })
	lib.Terminate(lib.Connections()[0])

	if err := waitRun(t, errCh); !errors.Is(err, app.ErrFeedTerminated) {
		t.Fatalf("expected ErrFeedTerminated, got %v", err)
	}
	if lib.OpenConnections() != 0 {
		t.Error("connection must be released after termination")
	}
}

func TestRun_NativeLibraryMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Simulate = false
	cfg.DXFeed.Address = "demo.dxfeed.com:7300"

	err := app.Run(context.Background(), cfg, logger.Nop(), app.WithSink(&collector{}))
	if err == nil || !strings.Contains(err.Error(), "load native library") {
		t.Fatalf("expected native load error, got %v", err)
	}
}

func TestRun_InvalidKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Kinds = "quote,bogus"
	if err := app.Run(context.Background(), cfg, logger.Nop(), app.WithLibrary(sim.New())); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestPipeline_DropsWhenFullAndFlushes(t *testing.T) {
	out := &collector{}
	p := app.NewPipeline(out, config.PipelineConfig{BufferSize: 2, WriteTimeout: time.Second}, logger.Nop())

	for _, sym := range []string{"AAPL", "MSFT", "IBM"} {
		p.OnEvent(context.Background(), &event.Quote{Symbol: sym})
	}
	if p.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", p.Depth())
	}
	p.OnError(context.Background(), errors.New("decode failed"))

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if out.count("AAPL") != 1 || out.count("MSFT") != 1 || out.count("IBM") != 0 {
		t.Errorf("unexpected records: %+v", out.recs)
	}
	if p.Depth() != 0 {
		t.Errorf("buffer not drained: %d", p.Depth())
	}
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	out := &collector{err: errors.New("sink down")}
	p := app.NewPipeline(out, config.PipelineConfig{BufferSize: 8}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.OnEvent(context.Background(), &event.Trade{Symbol: "AAPL"})
	eventually(t, "write attempt", func() bool { return out.count("AAPL") == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
