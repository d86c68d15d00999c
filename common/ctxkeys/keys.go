// common/ctxkeys/keys.go
//
// Пакет ctxkeys хранит общие ключи context.Value для логгера и HTTP-middleware.
package ctxkeys

type contextKey string

const (
	TraceIDKey   contextKey = "trace_id"
	RequestIDKey contextKey = "request_id"
)
