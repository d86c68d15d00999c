package httpserver_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/YaganovValera/dxfeed-go/common/httpserver"
	"github.com/YaganovValera/dxfeed-go/common/logger"
)

func TestServer_Endpoints(t *testing.T) {
	var ready atomic.Bool
	srv, err := httpserver.New(httpserver.Config{Addr: ":0"},
		func() error {
			if !ready.Load() {
				return errors.New("warming up")
			}
			return nil
		},
		logger.Nop(),
		map[string]http.Handler{
			"/boom": http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
			"/echo": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(r.URL.Path)) }),
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/healthz", http.StatusOK, "OK"},
		{"/readyz", http.StatusServiceUnavailable, "warming up"},
		{"/echo", http.StatusOK, "/echo"},
		{"/boom", http.StatusInternalServerError, ""},
		{"/metrics", http.StatusOK, "go_goroutines"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			status, body := get(tc.path)
			if status != tc.status || !strings.Contains(body, tc.body) {
				t.Errorf("GET %s = %d %q", tc.path, status, body)
			}
		})
	}

	ready.Store(true)
	if status, body := get("/readyz"); status != http.StatusOK || body != "READY" {
		t.Errorf("readyz after ready = %d %q", status, body)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := httpserver.New(httpserver.Config{}, nil, logger.Nop(), nil); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
