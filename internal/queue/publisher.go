package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers domain events.  Callers publish after their database
// work has committed and treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
	Close() error
}

// NopPublisher drops every event.  It is used when EVENTS_BACKEND=none.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// RabbitPublisher publishes each event type to a durable queue of the same
// name on the default exchange.  The connection is opened lazily and
// re-dialled after the broker drops it.
type RabbitPublisher struct {
	url string
	log *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[EventType]bool
}

func NewRabbitPublisher(url string, log *zap.Logger) *RabbitPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RabbitPublisher{url: url, log: log.Named("rabbitmq"), declared: map[EventType]bool{}}
}

// Publish marshals ev and sends it as a persistent JSON message.
func (p *RabbitPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.log.Warn("publish skipped, broker unavailable", zap.String("type", string(ev.Type)), zap.Error(err))
		return err
	}
	if !p.declared[ev.Type] {
		if _, err := ch.QueueDeclare(string(ev.Type), true, false, false, false, nil); err != nil {
			p.reset()
			return fmt.Errorf("queue declare: %w", err)
		}
		p.declared[ev.Type] = true
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", string(ev.Type), false, false, pub); err != nil {
		p.reset()
		p.log.Warn("publish failed", zap.String("type", string(ev.Type)), zap.String("order_code", ev.OrderCode), zap.Error(err))
		return err
	}
	return nil
}

// channel returns an open channel, dialling if needed.  p.mu must be held.
func (p *RabbitPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
	p.declared = map[EventType]bool{}
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// KafkaPublisher writes every event to one topic keyed by order code so
// that the events of one order stay ordered within a partition.
type KafkaPublisher struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: empty topic")
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{w: w, log: log.Named("kafka")}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(ev.OrderCode),
		Value:   body,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
		Time:    time.Now().UTC(),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("publish failed", zap.String("type", string(ev.Type)), zap.String("order_code", ev.OrderCode), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
