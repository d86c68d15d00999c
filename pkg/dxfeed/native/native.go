// pkg/dxfeed/native/native.go
//
// Пакет native описывает границу с нативной библиотекой dxFeed C API:
// непрозрачные хендлы, токены корреляции, сырые записи событий и
// контракт Library. Реальная реализация живёт за build-тегом dxfeed_native
// (cgo), симулятор: в подпакете sim.
package native

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ConnHandle: непрозрачный хендл нативного соединения (dxf_connection_t).
type ConnHandle uintptr

// SubHandle: непрозрачный хендл нативной подписки (dxf_subscription_t).
type SubHandle uintptr

// Token: токен корреляции. Передаётся в нативную библиотеку как user_data
// и возвращается в каждом обратном вызове.
type Token uint64

var lastToken atomic.Uint64

// NewToken выдаёт уникальный для процесса токен. Токены не переиспользуются,
// поэтому запоздавшая доставка никогда не попадёт в чужую подписку.
func NewToken() Token {
	return Token(lastToken.Add(1))
}

// Status: состояние нативного соединения (dxf_connection_status_t).
type Status int32

const (
	StatusNotConnected Status = iota
	StatusConnected
	StatusLoginRequired
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusNotConnected:
		return "not_connected"
	case StatusConnected:
		return "connected"
	case StatusLoginRequired:
		return "login_required"
	case StatusAuthorized:
		return "authorized"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Credentials: параметры авторизации. User/Password → basic, Token → bearer.
type Credentials struct {
	User     string
	Password string
	Token    string
}

// WString: строка нативной библиотеки в виде кодовых единиц UTF-32
// (dxf_char_t = wchar_t), без завершающего нуля.
type WString []rune

// Record: одна нативная запись события в момент доставки.
// Body и строки ссылаются на память библиотеки и валидны только
// до возврата из обратного вызова.
type Record struct {
	Kind    int32     // битовая маска типа события (DXF_ET_*), ровно один бит
	Symbol  WString   // символ инструмента
	Body    []byte    // структура события фиксированной раскладки
	Strings []WString // строки по указателям из Body, в порядке Layout.Strings
}

// Sink: получатель доставок. Library вызывает Deliver на своём потоке
// доставки для каждого токена, зарегистрированного через AttachListener.
type Sink interface {
	Deliver(token Token, rec *Record)
}

// ConnHooks: получатель уведомлений соединения.
type ConnHooks interface {
	OnTermination()
	OnStatusChange(old, new Status)
}

// Library: контракт нативной библиотеки. Все методы синхронные и
// не должны вызываться из обратных вызовов доставки.
type Library interface {
	Connect(address string, creds *Credentials, hooks ConnHooks) (ConnHandle, error)
	CloseConnection(h ConnHandle) error

	CreateSubscription(conn ConnHandle, kinds int32) (SubHandle, error)
	CloseSubscription(sub SubHandle) error

	AttachListener(sub SubHandle, token Token, sink Sink) error
	DetachListener(sub SubHandle, token Token) error

	AddSymbols(sub SubHandle, symbols []string) error
	RemoveSymbols(sub SubHandle, symbols []string) error
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Code: категория нативной ошибки.
type Code int

const (
	CodeInternal Code = iota
	CodeConnect
	CodeAuth
	CodeInvalidArgument
	CodeInvalidHandle
)

func (c Code) String() string {
	switch c {
	case CodeConnect:
		return "connect"
	case CodeAuth:
		return "auth"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeInvalidHandle:
		return "invalid_handle"
	default:
		return "internal"
	}
}

// Error: ошибка, о которой сообщила нативная библиотека.
type Error struct {
	Op      string
	Code    Code
	Native  int // код dxf_get_last_error, 0 если неизвестен
	Message string
}

func (e *Error) Error() string {
	if e.Native != 0 {
		return fmt.Sprintf("native %s: %s (code %d): %s", e.Op, e.Code, e.Native, e.Message)
	}
	return fmt.Sprintf("native %s: %s: %s", e.Op, e.Code, e.Message)
}

// CodeOf возвращает категорию err, если в цепочке есть *Error.
func CodeOf(err error) (Code, bool) {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code, true
	}
	return 0, false
}

// MaxStringScan: предел поиска завершающего нуля в нативных строках
// (в кодовых единицах). Лимиты длины строк выше него не проверяемы.
const MaxStringScan = 1 << 14

var (
	// ErrNotLinked: бинарь собран без тега dxfeed_native.
	ErrNotLinked = errors.New("native: dxfeed library is not linked (build with -tags dxfeed_native)")

	// ErrLayoutMismatch: раскладка структур в заголовках не совпадает с Go-зеркалами.
	ErrLayoutMismatch = errors.New("native: event layout mismatch")
)
