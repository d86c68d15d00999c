package sink

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	commonkafka "github.com/YaganovValera/dxfeed-go/common/kafka"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
)

var tracer = otel.Tracer("github.com/YaganovValera/dxfeed-go/services/quote-relay/internal/sink")

// Kafka публикует события с ключом = символ. В шаблоне топика {kind}
// заменяется на тип события в нижнем регистре.
type Kafka struct {
	producer    commonkafka.Producer
	topic       string
	encode      Encoder
	contentType string
}

func NewKafka(p commonkafka.Producer, topic, encoding string) (*Kafka, error) {
	enc, ct, err := EncoderFor(encoding)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, fmt.Errorf("sink: kafka topic is required")
	}
	return &Kafka{producer: p, topic: topic, encode: enc, contentType: ct}, nil
}

func (k *Kafka) Name() string { return "kafka" }

// Topic: топик для типа события.
func (k *Kafka) Topic(kind event.Kind) string {
	return strings.ReplaceAll(k.topic, "{kind}", strings.ToLower(kind.String()))
}

func (k *Kafka) Write(ctx context.Context, rec Record) error {
	kind := rec.Event.Kind()
	topic := k.Topic(kind)
	ctx, span := tracer.Start(ctx, "KafkaSink.Write", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("symbol", rec.Event.EventSymbol()),
	))
	defer span.End()

	b, err := k.encode(rec)
	if err != nil {
		span.RecordError(err)
		return err
	}
	err = k.producer.Publish(ctx, commonkafka.Message{
		Topic: topic,
		Key:   []byte(rec.Event.EventSymbol()),
		Value: b,
		Headers: map[string]string{
			"content-type": k.contentType,
			"kind":         kind.String(),
		},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.producer.Close() }
