package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YaganovValera/dxfeed-go/common/backoff"
	"github.com/YaganovValera/dxfeed-go/common/logger"
)

// fakeClient: in-memory client без сети.
type fakeClient struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	setErrs []error // возвращаются по очереди перед успешным Set
	closed  bool
}

func newFake() *fakeClient {
	return &fakeClient{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(ctx context.Context, key string) *goredis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(string(v), nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd {
	if len(f.setErrs) > 0 {
		err := f.setErrs[0]
		f.setErrs = f.setErrs[1:]
		return goredis.NewStatusResult("", err)
	}
	f.data[key] = value.([]byte)
	f.ttls[key] = ttl
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, true},
		{"addr", Config{Addr: "localhost:6379"}, false},
		{"url", Config{URL: "redis://localhost:6379/1"}, false},
		{"negative db", Config{Addr: "x", DB: -1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.cfg
			cfg.applyDefaults()
			if cfg.TTL != 10*time.Minute {
				t.Errorf("TTL default = %v", cfg.TTL)
			}
			if err := cfg.validate(); (err != nil) != c.wantErr {
				t.Errorf("validate() = %v; wantErr=%v", err, c.wantErr)
			}
		})
	}
}

func TestStorage_SetGet(t *testing.T) {
	fc := newFake()
	s := newStorage(fc, Config{TTL: time.Minute}, logger.Nop())
	ctx := context.Background()

	if _, err := s.Get(ctx, "quote:AAPL"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "quote:AAPL", []byte("150.25")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "quote:AAPL")
	if err != nil || string(got) != "150.25" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if fc.ttls["quote:AAPL"] != time.Minute {
		t.Errorf("ttl = %v", fc.ttls["quote:AAPL"])
	}
	if err := s.Close(); err != nil || !fc.closed {
		t.Errorf("Close: %v", err)
	}
}

func TestStorage_SetRetries(t *testing.T) {
	fc := newFake()
	fc.setErrs = []error{errors.New("LOADING"), errors.New("LOADING")}
	s := newStorage(fc, Config{
		TTL:     time.Minute,
		Backoff: backoff.Config{InitialInterval: time.Millisecond, Multiplier: 1, MaxRetries: 3},
	}, logger.Nop())

	if err := s.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set must succeed after retries: %v", err)
	}

	fc.setErrs = []error{errors.New("READONLY")}
	s.backoffCfg = backoff.Config{}
	if err := s.Set(context.Background(), "k", []byte("v")); err == nil {
		t.Fatal("without backoff the first error must be returned")
	}
}
