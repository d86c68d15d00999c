package event

import (
	"errors"
	"fmt"
)

// ErrDecode: общий признак ошибок декодирования для errors.Is.
var ErrDecode = errors.New("dxfeed: decode error")

// Reason: категория дефекта нативной записи.
type Reason int

const (
	// ReasonLengthOverflow: длина строки/массива или размер записи
	// выходит за объявленные границы.
	ReasonLengthOverflow Reason = iota + 1
	// ReasonUnknownDiscriminant: неизвестный тип события или значение перечисления.
	ReasonUnknownDiscriminant
	// ReasonCorruptSentinel: значение, которое не является ни данными,
	// ни допустимым маркером отсутствия (±Inf, отрицательное время).
	ReasonCorruptSentinel
	// ReasonInvalidString: недопустимая кодовая точка в строке.
	ReasonInvalidString
)

func (r Reason) String() string {
	switch r {
	case ReasonLengthOverflow:
		return "length overflow"
	case ReasonUnknownDiscriminant:
		return "unknown discriminant"
	case ReasonCorruptSentinel:
		return "corrupt sentinel"
	case ReasonInvalidString:
		return "invalid string"
	default:
		return "unknown"
	}
}

// DecodeError описывает отклонённую нативную запись. Значение
// сравнимо: одна и та же запись всегда даёт равные ошибки.
type DecodeError struct {
	RawKind int32  // маска типа из записи
	Field   string // поле, на котором остановился декодер
	Reason  Reason
	Detail  string
}

func (e *DecodeError) Error() string {
	name := "event"
	if k := Kind(e.RawKind); k.Single() {
		name = k.String()
	} else if e.RawKind != 0 {
		name = fmt.Sprintf("event(0x%x)", e.RawKind)
	}
	if e.Detail == "" {
		return fmt.Sprintf("dxfeed: decode %s.%s: %s", name, e.Field, e.Reason)
	}
	return fmt.Sprintf("dxfeed: decode %s.%s: %s: %s", name, e.Field, e.Reason, e.Detail)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
