package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer drains every queue in Queues and appends one human-readable
// line per message to an audit log: reservation events go to
// booking.log, reconciliation incidents to reconcile.log.
type Consumer struct {
	url string
	dir string
	log *slog.Logger

	mu sync.Mutex // serialises file appends across queues
}

func NewConsumer(url, dir string, log *slog.Logger) *Consumer {
	if dir == "" {
		dir = "logs"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{url: url, dir: dir, log: log}
}

// Run connects, consumes and reconnects with backoff until ctx is
// cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("consumer failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
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

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", "error", err)
	}

	var wg sync.WaitGroup
	errc := make(chan error, len(Queues))
	for _, name := range Queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		wg.Add(1)
		go func(queue string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			errc <- c.drain(ctx, queue, msgs)
		}(name, msgs)
	}

	err = <-errc
	_ = ch.Close() // stops the remaining deliveries
	wg.Wait()
	return err
}

func (c *Consumer) drain(ctx context.Context, queue string, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed for " + queue)
			}
			if err := c.HandleMessage(queue, d.Body); err != nil {
				c.log.Error("handle message failed", "queue", queue, "error", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage formats one message and appends it to the matching log.
func (c *Consumer) HandleMessage(queue string, body []byte) error {
	var file, line string
	switch queue {
	case ReservationConfirmedQueue:
		var ev ReservationConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		tiers := "[]"
		if len(ev.Tiers) > 0 {
			tiers = "[" + strings.Join(ev.Tiers, ",") + "]"
		}
		file = "booking.log"
		line = fmt.Sprintf("[%s] Reservation confirmed | reservation_id=%s | user_id=%s | event_id=%s | payment_ref=%q | total=%d cents | tickets=%d | tiers=%s\n",
			ev.ConfirmedAt, ev.ReservationID, ev.UserID, ev.EventID, ev.PaymentReference, ev.TotalPriceCents, len(ev.TicketIDs), tiers)
	case ReservationReleasedQueue:
		var ev ReservationReleasedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		file = "booking.log"
		line = fmt.Sprintf("[%s] Reservation %s | reservation_id=%s | event_id=%s | released=%d\n",
			ev.ReleasedAt, ev.Status, ev.ReservationID, ev.EventID, ev.Quantity)
	case InventoryReconcileQueue:
		var ev InventoryReconcileEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		file = "reconcile.log"
		line = fmt.Sprintf("[%s] RECONCILE event_id=%s | tier_id=%s | delta=%+d | reservation_id=%s | ticket_id=%s | reason=%q | error=%q\n",
			ev.OccurredAt, ev.EventID, ev.TierID, ev.Delta, ev.ReservationID, ev.TicketID, ev.Reason, ev.Error)
	default:
		return fmt.Errorf("unknown queue %q", queue)
	}
	return c.appendLine(file, line)
}

func (c *Consumer) appendLine(name, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
