package sink_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	commonkafka "github.com/YaganovValera/dxfeed-go/common/kafka"
	"github.com/YaganovValera/dxfeed-go/common/logger"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/sink"
)

var receivedAt = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func quoteRecord(sym string) sink.Record {
	return sink.Record{
		ReceivedAt: receivedAt,
		Event: &event.Quote{
			Symbol:      sym,
			BidPrice:    event.Some(150.25),
			BidSize:     event.Some(100.0),
			BidExchange: event.Some(event.Exchange('Q')),
			AskPrice:    event.Some(150.27),
			AskSize:     event.Some(200.0),
			AskExchange: event.Some(event.Exchange('T')),
		},
	}
}

func tradeRecord(sym string) sink.Record {
	return sink.Record{ReceivedAt: receivedAt, Event: &event.Trade{Symbol: sym, Price: event.Some(410.5)}}
}

func TestEncodeJSON_Envelope(t *testing.T) {
	b, err := sink.EncodeJSON(quoteRecord("AAPL"))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	var env struct {
		Kind       string                 `json:"kind"`
		Symbol     string                 `json:"symbol"`
		ReceivedAt time.Time              `json:"received_at"`
		Spread     string                 `json:"spread"`
		Event      map[string]interface{} `json:"event"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, b)
	}
	if env.Kind != "Quote" || env.Symbol != "AAPL" || !env.ReceivedAt.Equal(receivedAt) {
		t.Errorf("unexpected envelope: %s", b)
	}
	if env.Spread != "0.02" {
		t.Errorf("spread = %q, want 0.02", env.Spread)
	}
	if env.Event["bid_price"] != 150.25 || env.Event["ask_exchange"] != "T" {
		t.Errorf("unexpected event body: %v", env.Event)
	}
	if v, ok := env.Event["time"]; !ok || v != nil {
		t.Errorf("absent time must encode as null, got %v", v)
	}

	b, _ = sink.EncodeJSON(tradeRecord("MSFT"))
	if bytes.Contains(b, []byte(`"spread"`)) {
		t.Errorf("spread must be omitted for trades: %s", b)
	}
}

func TestEncodeProto(t *testing.T) {
	b, err := sink.EncodeProto(quoteRecord("AAPL"))
	if err != nil {
		t.Fatalf("EncodeProto: %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m := st.AsMap()
	if m["symbol"] != "AAPL" || m["spread"] != "0.02" {
		t.Errorf("unexpected struct: %v", m)
	}
	ev, _ := m["event"].(map[string]interface{})
	if ev["ask_price"] != 150.27 {
		t.Errorf("ask_price = %v", ev["ask_price"])
	}
}

func TestEncoderFor(t *testing.T) {
	tests := []struct {
		name    string
		wantCT  string
		wantErr bool
	}{
		{"json", sink.ContentTypeJSON, false},
		{"", sink.ContentTypeJSON, false},
		{"PROTO", sink.ContentTypeProto, false},
		{"avro", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ct, err := sink.EncoderFor(tc.name)
			if (err != nil) != tc.wantErr || ct != tc.wantCT {
				t.Errorf("EncoderFor(%q) = %q, %v", tc.name, ct, err)
			}
		})
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := sink.NewStdout(&buf)
	for _, sym := range []string{"AAPL", "MSFT"} {
		if err := s.Write(context.Background(), quoteRecord(sym)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	_ = s.Close()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"symbol":"MSFT"`) {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

// ---- fakes ----

type fakeProducer struct {
	msgs   []commonkafka.Message
	err    error
	closed bool
}

func (p *fakeProducer) Publish(_ context.Context, m commonkafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}
func (p *fakeProducer) Ping(context.Context) error { return nil }
func (p *fakeProducer) Close() error               { p.closed = true; return nil }

type fakeStorage struct {
	data   map[string][]byte
	closed bool
}

func (s *fakeStorage) Get(_ context.Context, key string) ([]byte, error) { return s.data[key], nil }
func (s *fakeStorage) Set(_ context.Context, key string, v []byte) error {
	s.data[key] = v
	return nil
}
func (s *fakeStorage) Ping(context.Context) error { return nil }
func (s *fakeStorage) Close() error               { s.closed = true; return nil }

type fakeSink struct {
	name   string
	err    error
	writes int
	order  *[]string
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Write(context.Context, sink.Record) error {
	f.writes++
	return f.err
}
func (f *fakeSink) Close() error {
	*f.order = append(*f.order, f.name)
	return nil
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	k, err := sink.NewKafka(p, "dxfeed.{kind}", "json")
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	if err := k.Write(context.Background(), quoteRecord("AAPL")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := k.Write(context.Background(), tradeRecord("MSFT")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(p.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(p.msgs))
	}
	m := p.msgs[0]
	if m.Topic != "dxfeed.quote" || string(m.Key) != "AAPL" || m.Headers["kind"] != "Quote" || m.Headers["content-type"] != sink.ContentTypeJSON {
		t.Errorf("unexpected message: %+v", m)
	}
	if p.msgs[1].Topic != "dxfeed.trade" {
		t.Errorf("trade topic = %q", p.msgs[1].Topic)
	}

	p.err = errors.New("broker down")
	if err := k.Write(context.Background(), quoteRecord("AAPL")); err == nil {
		t.Error("expected publish error")
	}
	_ = k.Close()
	if !p.closed {
		t.Error("producer must be closed")
	}

	if _, err := sink.NewKafka(p, "", "json"); err == nil {
		t.Error("empty topic must be rejected")
	}
}

func TestRedisSink(t *testing.T) {
	st := &fakeStorage{data: map[string][]byte{}}
	r := sink.NewRedis(st, "dxfeed")
	_ = r.Write(context.Background(), quoteRecord("AAPL"))
	rec := quoteRecord("AAPL")
	rec.Event.(*event.Quote).BidPrice = event.Some(150.26)
	_ = r.Write(context.Background(), rec)

	v, ok := st.data["dxfeed:quote:AAPL"]
	if !ok || len(st.data) != 1 {
		t.Fatalf("unexpected keys: %v", st.data)
	}
	if !bytes.Contains(v, []byte(`"bid_price":150.26`)) {
		t.Errorf("latest value must win: %s", v)
	}
	if got := sink.NewRedis(st, "").Key(event.KindTrade, "MSFT"); got != "trade:MSFT" {
		t.Errorf("Key = %q", got)
	}
}

func TestMulti_IsolatesErrorsAndClosesInReverse(t *testing.T) {
	var order []string
	a := &fakeSink{name: "a", order: &order}
	b := &fakeSink{name: "b", err: errors.New("boom"), order: &order}
	c := &fakeSink{name: "c", order: &order}
	m := sink.NewMulti(logger.Nop(), a, b, c)

	err := m.Write(context.Background(), quoteRecord("AAPL"))
	if err == nil || !strings.Contains(err.Error(), "b: boom") {
		t.Errorf("expected joined error from b, got %v", err)
	}
	if a.writes != 1 || c.writes != 1 {
		t.Errorf("healthy sinks must still be written: a=%d c=%d", a.writes, c.writes)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if strings.Join(order, ",") != "c,b,a" {
		t.Errorf("close order = %v", order)
	}
}
