package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harentsoaR/medlab-api/internal/metrics"
)

// Mailer delivers one rendered HTML message. Implementations make a single
// attempt; the dispatcher never retries.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Message is a notification waiting in the dispatch queue.
type Message struct {
	ID      string
	Kind    string
	To      string
	Subject string
	Body    string
	// EntityID ties log lines back to the appointment that triggered the send.
	EntityID string
}

// Notifier accepts messages without blocking. false means the message was
// dropped.
type Notifier interface {
	Enqueue(msg Message) bool
}

type DispatcherOptions struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher hands messages to a Mailer from a single background worker.
// Enqueue never blocks: when the queue is full or the dispatcher is shut down
// the message is dropped and counted.
type Dispatcher struct {
	mailer      Mailer
	log         *zap.Logger
	metrics     *metrics.Collector
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	done   chan struct{}
}

func NewDispatcher(mailer Mailer, m *metrics.Collector, log *zap.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		mailer:      mailer,
		log:         log,
		metrics:     m,
		sendTimeout: opts.SendTimeout,
		queue:       make(chan Message, opts.QueueSize),
		done:        make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *Dispatcher) Enqueue(msg Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(msg, "dispatcher stopped")
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.drop(msg, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(msg Message, reason string) {
	d.metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
	d.log.Warn("notification dropped",
		zap.String("reason", reason),
		zap.String("notification_id", msg.ID),
		zap.String("kind", msg.Kind),
		zap.String("entity_id", msg.EntityID),
	)
}

// Shutdown stops accepting messages and waits for the queue to drain or ctx
// to expire, whichever comes first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.log.Warn("notification dispatcher shutdown timed out; queued messages lost")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			d.log.Error("mailer panicked", zap.Any("panic", r), zap.String("notification_id", msg.ID))
		}
	}()

	err := d.mailer.Send(ctx, msg.To, msg.Subject, msg.Body)
	if err != nil {
		d.metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		fields := []zap.Field{
			zap.Error(err),
			zap.String("notification_id", msg.ID),
			zap.String("kind", msg.Kind),
			zap.String("entity_id", msg.EntityID),
		}
		if errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("notification send timed out", fields...)
			return
		}
		d.log.Error("notification send failed", fields...)
		return
	}
	d.metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	d.log.Info("notification sent",
		zap.String("notification_id", msg.ID),
		zap.String("kind", msg.Kind),
		zap.String("entity_id", msg.EntityID),
	)
}
