// Package events publishes order lifecycle events to Kafka once the owning transaction has
// committed.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/stockroom-labs/stockroom/internal/config"
)

const (
	OrderCreated       = "order.created"
	OrderCancelled     = "order.cancelled"
	OrderStatusChanged = "order.status_changed"
)

// Line is the per-product part of an order event.
type Line struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// Event describes something that happened to an order.
type Event struct {
	Type        string    `json:"type"`
	OrderID     int64     `json:"order_id"`
	ClientID    int64     `json:"client_id"`
	Status      string    `json:"status"`
	PrevStatus  string    `json:"previous_status,omitempty"`
	TotalAmount string    `json:"total_amount"`
	Lines       []Line    `json:"lines,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers events. Failures never undo the committed transaction; callers log them.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by order id so one order's events stay ordered.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher builds the writer for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// New picks the Kafka publisher when brokers are configured.
func New(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled() {
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg)
}

// Publish writes event keyed by its order id, with the trace context in the headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := buildMessage(ctx, event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for order %d", event.Type, event.OrderID)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func buildMessage(ctx context.Context, event Event) (kafka.Message, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal event")
	}

	carrier := headerCarrier{{Key: "event_type", Value: []byte(event.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	return kafka.Message{
		Key:     []byte(strconv.FormatInt(event.OrderID, 10)),
		Value:   payload,
		Headers: carrier,
	}, nil
}

// headerCarrier lets the otel propagator write trace context into Kafka headers.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}

// PublishLogged publishes and logs a failure instead of returning it.
func PublishLogged(ctx context.Context, p Publisher, event Event) {
	if err := p.Publish(ctx, event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("event", event.Type).
			Int64("order_id", event.OrderID).
			Msg("[EVENTS] publish failed")
	}
}
