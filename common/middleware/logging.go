package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/dxfeed-go/common/logger"
)

// AccessLog логирует входящие HTTP-запросы с контекстом.
func AccessLog(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			entry := log.WithContext(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("latency", time.Since(start)),
			}
			switch {
			case rw.status >= 500:
				entry.Error("HTTP request", fields...)
			case rw.status >= 400:
				entry.Warn("HTTP request", fields...)
			default:
				entry.Debug("HTTP request", fields...)
			}
		})
	}
}
