package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SeatSyncer retries confirming the seats of a paid order.
type SeatSyncer interface {
	RetrySeatSync(ctx context.Context, orderID uint64) error
}

// ReconciliationConsumer handles seats.reconciliation_required events:
// every event is appended to <logDir>/reconciliation.log for manual
// follow-up and one automatic confirm retry is attempted.
type ReconciliationConsumer struct {
	syncer SeatSyncer
	logDir string
	log    *zap.Logger

	mu sync.Mutex
}

func NewReconciliationConsumer(syncer SeatSyncer, logDir string, log *zap.Logger) *ReconciliationConsumer {
	if logDir == "" {
		logDir = "logs"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationConsumer{syncer: syncer, logDir: logDir, log: log.Named("reconciliation")}
}

// reconnectBackOff paces broker reconnects: about a second at first,
// growing to half a minute.
func reconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

// RunRabbit consumes from RabbitMQ until ctx is cancelled, reconnecting
// with exponential delay when the broker goes away.
func (c *ReconciliationConsumer) RunRabbit(ctx context.Context, url string) error {
	b := reconnectBackOff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err == nil {
			b.Reset()
			err = c.consumeRabbit(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		delay := b.NextBackOff()
		c.log.Warn("broker unavailable, reconnecting", zap.Error(err), zap.Duration("retry_in", delay))
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (c *ReconciliationConsumer) consumeRabbit(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set qos failed", zap.Error(err))
	}
	queue := string(SeatsReconciliationRequired)
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.log.Error("handle message failed", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// RunKafka consumes the events topic as part of group and handles only
// seats.reconciliation_required messages.  Offsets are committed after
// handling.
func (c *ReconciliationConsumer) RunKafka(ctx context.Context, brokers []string, topic, group string) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	defer r.Close()
	b := reconnectBackOff()
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := b.NextBackOff()
			c.log.Warn("fetch failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		b.Reset()
		if headerValue(m.Headers, "type") == string(SeatsReconciliationRequired) {
			if err := c.Handle(ctx, m.Value); err != nil {
				c.log.Error("handle message failed", zap.Error(err), zap.Int64("offset", m.Offset))
			}
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", zap.Error(err))
		}
	}
}

// Handle records one event and retries the seat confirmation once.  A
// failed retry is logged; the log line stays for manual reconciliation.
func (c *ReconciliationConsumer) Handle(ctx context.Context, body []byte) error {
	var ev OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := c.appendLine(ev); err != nil {
		return err
	}
	if c.syncer == nil {
		return nil
	}
	if err := c.syncer.RetrySeatSync(ctx, ev.OrderID); err != nil {
		c.log.Error("seat confirmation retry failed",
			zap.String("order_code", ev.OrderCode), zap.Strings("seats", ev.Seats), zap.Error(err))
		return nil
	}
	c.log.Info("seat confirmation reconciled", zap.String("order_code", ev.OrderCode))
	return nil
}

func (c *ReconciliationConsumer) appendLine(ev OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.logDir, "reconciliation.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Seat confirmation required | order_id=%d | order_code=%s | slot_id=%d | seats=[%s] | amount=%d | reason=%q\n",
		ev.OccurredAt, ev.OrderID, ev.OrderCode, ev.SlotID, strings.Join(ev.Seats, ","), ev.FinalAmount, ev.Reason)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func headerValue(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
