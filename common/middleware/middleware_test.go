package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/YaganovValera/dxfeed-go/common/ctxkeys"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/common/middleware"
)

func chain(h http.Handler) http.Handler {
	return middleware.RequestID()(middleware.Metrics()(middleware.AccessLog(logger.Nop())(h)))
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "req-42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = r.Context().Value(ctxkeys.RequestIDKey).(string)
				w.WriteHeader(http.StatusTeapot)
			}))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tc.header != "" {
				req.Header.Set(middleware.RequestIDHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusTeapot {
				t.Errorf("status = %d", rec.Code)
			}
			got := rec.Header().Get(middleware.RequestIDHeader)
			if got == "" || got != seen {
				t.Errorf("header %q, context %q", got, seen)
			}
			if tc.header != "" && got != tc.header {
				t.Errorf("expected propagated id %q, got %q", tc.header, got)
			}
		})
	}
}
