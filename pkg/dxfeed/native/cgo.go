//go:build cgo && dxfeed_native

package native

/*
#include <stdint.h>
#include <stdlib.h>
#include "DXFeed.h"

int dxfeed_connect(const char* address, uintptr_t token, uintptr_t* out);
int dxfeed_connect_basic(const char* address, const char* user, const char* password, uintptr_t token, uintptr_t* out);
int dxfeed_connect_bearer(const char* address, const char* auth_token, uintptr_t token, uintptr_t* out);
int dxfeed_close_connection(uintptr_t conn);
int dxfeed_create_subscription(uintptr_t conn, int event_types, uintptr_t* out);
int dxfeed_close_subscription(uintptr_t sub);
int dxfeed_attach(uintptr_t sub, uintptr_t token);
int dxfeed_detach(uintptr_t sub);
int dxfeed_add_symbols(uintptr_t sub, void* symbols, int count);
int dxfeed_remove_symbols(uintptr_t sub, void* symbols, int count);
void dxfeed_last_error(int* code, void** descr);
*/
import "C"

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

// Строка длиннее MaxStringScan приходит в декодер обрезанной до
// maxScan+1 единиц и отклоняется им как переполнение: Config не
// допускает лимитов выше maxScan.
const maxScan = MaxStringScan

const dxfSuccess = 1

var (
	// Таблица маршрутов доставки: токен → получатель. Общая на процесс,
	// так как нативный трамплин статический.
	routes sync.Map
	// Таблица уведомлений соединений: токен → ConnHooks.
	hooks sync.Map

	recordPool = sync.Pool{New: func() any { return &Record{Strings: make([]WString, 0, 4)} }}

	loadOnce sync.Once
	loaded   *cLibrary
	loadErr  error
)

// Load проверяет совместимость раскладок и возвращает библиотеку.
// Проверка выполняется один раз до первого нативного вызова.
func Load() (Library, error) {
	loadOnce.Do(func() {
		if err := checkLayouts(); err != nil {
			loadErr = err
			return
		}
		loaded = &cLibrary{conns: make(map[ConnHandle]Token)}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return loaded, nil
}

type cLibrary struct {
	// Состояние библиотеки глобально; создание и закрытие соединений
	// сериализуются.
	mu    sync.Mutex
	conns map[ConnHandle]Token
}

func (l *cLibrary) Connect(address string, creds *Credentials, h ConnHooks) (ConnHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tok := NewToken()
	hooks.Store(tok, h)

	cAddr := C.CString(address)
	defer C.free(unsafe.Pointer(cAddr))

	var out C.uintptr_t
	var rc C.int
	switch {
	case creds != nil && creds.Token != "":
		cTok := C.CString(creds.Token)
		defer C.free(unsafe.Pointer(cTok))
		rc = C.dxfeed_connect_bearer(cAddr, cTok, C.uintptr_t(tok), &out)
	case creds != nil && creds.User != "":
		cUser := C.CString(creds.User)
		cPass := C.CString(creds.Password)
		defer C.free(unsafe.Pointer(cUser))
		defer C.free(unsafe.Pointer(cPass))
		rc = C.dxfeed_connect_basic(cAddr, cUser, cPass, C.uintptr_t(tok), &out)
	default:
		rc = C.dxfeed_connect(cAddr, C.uintptr_t(tok), &out)
	}
	if rc != dxfSuccess || out == 0 {
		hooks.Delete(tok)
		return 0, lastError("connect", CodeConnect)
	}

	ch := ConnHandle(out)
	l.conns[ch] = tok
	return ch, nil
}

func (l *cLibrary) CloseConnection(h ConnHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tok, ok := l.conns[h]
	if !ok {
		return &Error{Op: "close_connection", Code: CodeInvalidHandle, Message: "unknown connection handle"}
	}
	delete(l.conns, h)
	rc := C.dxfeed_close_connection(C.uintptr_t(h))
	hooks.Delete(tok)
	if rc != dxfSuccess {
		return lastError("close_connection", CodeInternal)
	}
	return nil
}

func (l *cLibrary) CreateSubscription(conn ConnHandle, kinds int32) (SubHandle, error) {
	var out C.uintptr_t
	if rc := C.dxfeed_create_subscription(C.uintptr_t(conn), C.int(kinds), &out); rc != dxfSuccess || out == 0 {
		return 0, lastError("create_subscription", CodeInvalidArgument)
	}
	return SubHandle(out), nil
}

func (l *cLibrary) CloseSubscription(sub SubHandle) error {
	if rc := C.dxfeed_close_subscription(C.uintptr_t(sub)); rc != dxfSuccess {
		return lastError("close_subscription", CodeInternal)
	}
	return nil
}

func (l *cLibrary) AttachListener(sub SubHandle, tok Token, sink Sink) error {
	routes.Store(tok, sink)
	if rc := C.dxfeed_attach(C.uintptr_t(sub), C.uintptr_t(tok)); rc != dxfSuccess {
		routes.Delete(tok)
		return lastError("attach_listener", CodeInternal)
	}
	return nil
}

func (l *cLibrary) DetachListener(sub SubHandle, tok Token) error {
	rc := C.dxfeed_detach(C.uintptr_t(sub))
	routes.Delete(tok)
	if rc != dxfSuccess {
		return lastError("detach_listener", CodeInternal)
	}
	return nil
}

func (l *cLibrary) AddSymbols(sub SubHandle, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	arr, free := cWStrings(symbols)
	defer free()
	if rc := C.dxfeed_add_symbols(C.uintptr_t(sub), arr, C.int(len(symbols))); rc != dxfSuccess {
		return lastError("add_symbols", CodeInvalidArgument)
	}
	return nil
}

func (l *cLibrary) RemoveSymbols(sub SubHandle, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	arr, free := cWStrings(symbols)
	defer free()
	if rc := C.dxfeed_remove_symbols(C.uintptr_t(sub), arr, C.int(len(symbols))); rc != dxfSuccess {
		return lastError("remove_symbols", CodeInvalidArgument)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Трамплины (выполняются на потоках библиотеки)
// -----------------------------------------------------------------------------

//export dxfeedGoOnEvent
func dxfeedGoOnEvent(eventType C.int, symbol, data unsafe.Pointer, count C.int, userData unsafe.Pointer) {
	tok := Token(uintptr(userData))
	v, ok := routes.Load(tok)
	if !ok {
		return
	}
	sink := v.(Sink)

	rec := recordPool.Get().(*Record)
	defer func() {
		rec.Symbol, rec.Body = nil, nil
		rec.Strings = rec.Strings[:0]
		recordPool.Put(rec)
	}()

	rec.Kind = int32(eventType)
	rec.Symbol = scanWString(symbol)

	layout, known := LayoutOf(rec.Kind)
	if !known || data == nil || count <= 0 {
		// Декодер сообщит слушателю о записи неизвестного типа.
		sink.Deliver(tok, rec)
		return
	}
	for i := 0; i < int(count); i++ {
		item := unsafe.Add(data, uintptr(i)*layout.Size)
		rec.Body = unsafe.Slice((*byte)(item), layout.Size)
		rec.Strings = rec.Strings[:0]
		for _, off := range layout.Strings {
			p := *(*unsafe.Pointer)(unsafe.Add(item, off))
			rec.Strings = append(rec.Strings, scanWString(p))
		}
		sink.Deliver(tok, rec)
	}
}

//export dxfeedGoOnTermination
func dxfeedGoOnTermination(userData unsafe.Pointer) {
	if v, ok := hooks.Load(Token(uintptr(userData))); ok {
		v.(ConnHooks).OnTermination()
	}
}

//export dxfeedGoOnStatus
func dxfeedGoOnStatus(oldStatus, newStatus C.int, userData unsafe.Pointer) {
	if v, ok := hooks.Load(Token(uintptr(userData))); ok {
		v.(ConnHooks).OnStatusChange(Status(oldStatus), Status(newStatus))
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// scanWString возвращает срез над нативной строкой без копирования.
func scanWString(p unsafe.Pointer) WString {
	if p == nil {
		return nil
	}
	n := 0
	for n <= maxScan && *(*int32)(unsafe.Add(p, n*4)) != 0 {
		n++
	}
	return unsafe.Slice((*rune)(p), n)
}

// cWStrings размещает массив wchar_t-строк в C-памяти.
func cWStrings(symbols []string) (unsafe.Pointer, func()) {
	arr := C.malloc(C.size_t(len(symbols)) * C.size_t(unsafe.Sizeof(uintptr(0))))
	ptrs := unsafe.Slice((*unsafe.Pointer)(arr), len(symbols))
	for i, s := range symbols {
		rs := []rune(s)
		buf := C.malloc(C.size_t((len(rs) + 1) * 4))
		w := unsafe.Slice((*int32)(buf), len(rs)+1)
		copy(w, rs)
		w[len(rs)] = 0
		ptrs[i] = buf
	}
	return arr, func() {
		for _, p := range ptrs {
			C.free(p)
		}
		C.free(arr)
	}
}

func lastError(op string, code Code) error {
	var ec C.int
	var descr unsafe.Pointer
	C.dxfeed_last_error(&ec, &descr)
	msg := string(scanWString(descr))
	if msg == "" {
		msg = "unknown error"
	}
	if code == CodeConnect && isAuthFailure(msg) {
		code = CodeAuth
	}
	return &Error{Op: op, Code: code, Native: int(ec), Message: msg}
}

func isAuthFailure(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{"auth", "login", "password", "token", "credential"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Layout compatibility
// -----------------------------------------------------------------------------

type fieldCheck struct {
	name        string
	goOff, cOff uintptr
}

type layoutCheck struct {
	name          string
	goSize, cSize uintptr
	fields        []fieldCheck
}

// checkLayouts сверяет Go-зеркала с заголовками, под которые собран бинарь.
func checkLayouts() error {
	if C.sizeof_dxf_char_t != 4 {
		return fmt.Errorf("%w: sizeof(dxf_char_t) = %d, want 4", ErrLayoutMismatch, C.sizeof_dxf_char_t)
	}
	checks := []layoutCheck{
		{"dxf_trade_t", unsafe.Sizeof(RawTrade{}), unsafe.Sizeof(C.dxf_trade_t{}), []fieldCheck{
			{"price", unsafe.Offsetof(RawTrade{}.Price), unsafe.Offsetof(C.dxf_trade_t{}.price)},
			{"day_volume", unsafe.Offsetof(RawTrade{}.DayVolume), unsafe.Offsetof(C.dxf_trade_t{}.day_volume)},
			{"scope", unsafe.Offsetof(RawTrade{}.Scope), unsafe.Offsetof(C.dxf_trade_t{}.scope)},
		}},
		{"dxf_quote_t", unsafe.Sizeof(RawQuote{}), unsafe.Sizeof(C.dxf_quote_t{}), []fieldCheck{
			{"bid_price", unsafe.Offsetof(RawQuote{}.BidPrice), unsafe.Offsetof(C.dxf_quote_t{}.bid_price)},
			{"ask_price", unsafe.Offsetof(RawQuote{}.AskPrice), unsafe.Offsetof(C.dxf_quote_t{}.ask_price)},
			{"ask_size", unsafe.Offsetof(RawQuote{}.AskSize), unsafe.Offsetof(C.dxf_quote_t{}.ask_size)},
		}},
		{"dxf_summary_t", unsafe.Sizeof(RawSummary{}), unsafe.Sizeof(C.dxf_summary_t{}), []fieldCheck{
			{"open_interest", unsafe.Offsetof(RawSummary{}.OpenInterest), unsafe.Offsetof(C.dxf_summary_t{}.open_interest)},
		}},
		{"dxf_profile_t", unsafe.Sizeof(RawProfile{}), unsafe.Sizeof(C.dxf_profile_t{}), []fieldCheck{
			{"description", unsafe.Offsetof(RawProfile{}.Description), unsafe.Offsetof(C.dxf_profile_t{}.description)},
			{"status_reason", unsafe.Offsetof(RawProfile{}.StatusReason), unsafe.Offsetof(C.dxf_profile_t{}.status_reason)},
		}},
		{"dxf_order_t", unsafe.Sizeof(RawOrder{}), unsafe.Sizeof(C.dxf_order_t{}), []fieldCheck{
			{"index", unsafe.Offsetof(RawOrder{}.Index), unsafe.Offsetof(C.dxf_order_t{}.index)},
			{"price", unsafe.Offsetof(RawOrder{}.Price), unsafe.Offsetof(C.dxf_order_t{}.price)},
		}},
		{"dxf_time_and_sale_t", unsafe.Sizeof(RawTimeAndSale{}), unsafe.Sizeof(C.dxf_time_and_sale_t{}), []fieldCheck{
			{"buyer", unsafe.Offsetof(RawTimeAndSale{}.Buyer), unsafe.Offsetof(C.dxf_time_and_sale_t{}.buyer)},
			{"seller", unsafe.Offsetof(RawTimeAndSale{}.Seller), unsafe.Offsetof(C.dxf_time_and_sale_t{}.seller)},
		}},
		{"dxf_candle_t", unsafe.Sizeof(RawCandle{}), unsafe.Sizeof(C.dxf_candle_t{}), nil},
		{"dxf_greeks_t", unsafe.Sizeof(RawGreeks{}), unsafe.Sizeof(C.dxf_greeks_t{}), nil},
		{"dxf_theo_price_t", unsafe.Sizeof(RawTheoPrice{}), unsafe.Sizeof(C.dxf_theo_price_t{}), nil},
		{"dxf_underlying_t", unsafe.Sizeof(RawUnderlying{}), unsafe.Sizeof(C.dxf_underlying_t{}), nil},
		{"dxf_series_t", unsafe.Sizeof(RawSeries{}), unsafe.Sizeof(C.dxf_series_t{}), nil},
		{"dxf_configuration_t", unsafe.Sizeof(RawConfiguration{}), unsafe.Sizeof(C.dxf_configuration_t{}), nil},
	}
	for _, c := range checks {
		if c.goSize != c.cSize {
			return fmt.Errorf("%w: sizeof(%s) = %d, mirror has %d", ErrLayoutMismatch, c.name, c.cSize, c.goSize)
		}
		for _, f := range c.fields {
			if f.goOff != f.cOff {
				return fmt.Errorf("%w: offsetof(%s.%s) = %d, mirror has %d", ErrLayoutMismatch, c.name, f.name, f.cOff, f.goOff)
			}
		}
	}
	return nil
}
