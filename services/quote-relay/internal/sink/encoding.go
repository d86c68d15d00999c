package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

const (
	ContentTypeJSON  = "application/json"
	ContentTypeProto = "application/x-protobuf; messageType=google.protobuf.Struct"
)

// Envelope: формат записи на проводе.
type Envelope struct {
	Kind       event.Kind       `json:"kind"`
	Symbol     string           `json:"symbol"`
	ReceivedAt time.Time        `json:"received_at"`
	Event      event.Event      `json:"event"`
	Spread     *decimal.Decimal `json:"spread,omitempty"` // только для Quote с обеими сторонами
}

func NewEnvelope(rec Record) Envelope {
	env := Envelope{
		Kind:       rec.Event.Kind(),
		Symbol:     rec.Event.EventSymbol(),
		ReceivedAt: rec.ReceivedAt.UTC(),
		Event:      rec.Event,
	}
	if q, ok := rec.Event.(*event.Quote); ok {
		if s, ok := q.Spread(); ok {
			env.Spread = &s
		}
	}
	return env
}

// Encoder сериализует запись.
type Encoder func(rec Record) ([]byte, error)

// EncodeJSON: одна JSON-строка без перевода строки.
func EncodeJSON(rec Record) ([]byte, error) {
	b, err := json.Marshal(NewEnvelope(rec))
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return b, nil
}

// EncodeProto: тот же конверт как google.protobuf.Struct. Числа
// становятся double, отсутствующие поля: null.
func EncodeProto(rec Record) ([]byte, error) {
	js, err := EncodeJSON(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(js, &m); err != nil {
		return nil, fmt.Errorf("encode proto: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode proto: %w", err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode proto: %w", err)
	}
	return b, nil
}

// EncoderFor возвращает кодировщик и content-type по имени.
func EncoderFor(name string) (Encoder, string, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return EncodeJSON, ContentTypeJSON, nil
	case "proto":
		return EncodeProto, ContentTypeProto, nil
	default:
		return nil, "", fmt.Errorf("sink: unknown encoding %q", name)
	}
}
