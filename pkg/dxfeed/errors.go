package dxfeed

import (
	"errors"
	"fmt"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

// Причины ошибок. Проверяются через errors.Is.
var (
	ErrUnreachable   = errors.New("dxfeed: endpoint unreachable")
	ErrAuthRejected  = errors.New("dxfeed: authorization rejected")
	ErrNativeInit    = errors.New("dxfeed: native library initialization failed")
	ErrInvalidConfig = errors.New("dxfeed: invalid config")

	ErrInvalidSymbol    = errors.New("dxfeed: invalid symbol")
	ErrInvalidEventKind = errors.New("dxfeed: invalid event kind")
	ErrRegistryFull     = errors.New("dxfeed: subscription registry full")
	ErrNilListener      = errors.New("dxfeed: nil listener")

	ErrClosed = errors.New("dxfeed: use after close")
)

// DecodeError: отклонённая нативная запись; приходит в Listener.OnError.
type DecodeError = event.DecodeError

// ConnectionError: неудачный Connect.
type ConnectionError struct {
	Op      string
	Address string
	Err     error // одна из причин: ErrUnreachable, ErrAuthRejected, ErrNativeInit, ErrInvalidConfig
	Native  error // исходная ошибка библиотеки, если есть
}

func (e *ConnectionError) Error() string {
	if e.Native != nil {
		return fmt.Sprintf("dxfeed: %s %s: %v: %v", e.Op, e.Address, e.Err, e.Native)
	}
	return fmt.Sprintf("dxfeed: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Native != nil {
		return []error{e.Err, e.Native}
	}
	return []error{e.Err}
}

// SubscriptionError: неудачная операция подписки.
type SubscriptionError struct {
	Op     string
	Symbol string // для ErrInvalidSymbol
	Err    error
}

func (e *SubscriptionError) Error() string {
	if e.Symbol != "" || errors.Is(e.Err, ErrInvalidSymbol) {
		return fmt.Sprintf("dxfeed: %s: %v %q", e.Op, e.Err, e.Symbol)
	}
	return fmt.Sprintf("dxfeed: %s: %v", e.Op, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// UseAfterCloseError: операция над закрытой подпиской или соединением.
type UseAfterCloseError struct {
	Op       string
	Resource string // "connection" | "subscription"
}

func (e *UseAfterCloseError) Error() string {
	return fmt.Sprintf("dxfeed: %s: %s is closed", e.Op, e.Resource)
}

func (e *UseAfterCloseError) Unwrap() error { return ErrClosed }
