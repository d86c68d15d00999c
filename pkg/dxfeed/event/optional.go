package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Optional: значение, которое может отсутствовать. Нативные
// «пустые» маркеры (NaN, нулевое время, нулевой код биржи) декодируются
// в отсутствующее значение, а не в ноль.
type Optional[T any] struct {
	v  T
	ok bool
}

// Some возвращает присутствующее значение.
func Some[T any](v T) Optional[T] { return Optional[T]{v: v, ok: true} }

// None возвращает отсутствующее значение.
func None[T any]() Optional[T] { return Optional[T]{} }

func (o Optional[T]) Get() (T, bool) { return o.v, o.ok }
func (o Optional[T]) Valid() bool    { return o.ok }

// OrElse возвращает значение или def, если его нет.
func (o Optional[T]) OrElse(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

func (o Optional[T]) String() string {
	if !o.ok {
		return "<none>"
	}
	return fmt.Sprint(o.v)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
