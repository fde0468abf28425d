package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
	"github.com/hackgods/dental-appointment-scheduling/internal/metrics"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)

// Dispatcher queues booking confirmations and delivers them from background
// workers, so a slow or failing channel never holds up a booking. Each send
// is bounded by timeout; failures are logged and not retried.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	closed bool
	jobs   chan appointment.NotificationRequest
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

// WithSendRate caps sends per second across all workers. Waiting for a token
// counts against the send timeout.
func WithSendRate(perSecond float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func NewDispatcher(sender Sender, timeout time.Duration, buffer, workers int, log *zap.Logger, m *metrics.Collector, opts ...DispatcherOption) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sender:  sender,
		timeout: timeout,
		log:     log,
		metrics: m,
		jobs:    make(chan appointment.NotificationRequest, buffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify enqueues a confirmation. When the buffer is full or the dispatcher
// is shut down the confirmation is dropped with a warning.
func (d *Dispatcher) Notify(ctx context.Context, req appointment.NotificationRequest) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(req, "dispatcher stopped")
		return
	}

	select {
	case d.jobs <- req:
		d.metrics.QueueDepth(len(d.jobs))
	default:
		d.drop(req, "queue full")
	}
}

func (d *Dispatcher) drop(req appointment.NotificationRequest, reason string) {
	d.metrics.Notification(outcomeDropped)
	d.log.Warn("booking confirmation dropped",
		zap.String("reason", reason),
		zap.String("contact", req.RecipientContact),
	)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for req := range d.jobs {
		d.metrics.QueueDepth(len(d.jobs))
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req appointment.NotificationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.throttle(ctx)
	if err == nil {
		err = d.safeSend(ctx, req)
	}
	if err != nil {
		d.metrics.Notification(outcomeFailed)
		d.log.Warn("booking confirmation failed",
			zap.String("contact", req.RecipientContact),
			zap.String("appointment_at", req.AppointmentAt),
			zap.Error(err),
		)
		return
	}
	d.metrics.Notification(outcomeSent)
	d.log.Info("booking confirmation sent",
		zap.String("contact", req.RecipientContact),
		zap.String("appointment_at", req.AppointmentAt),
	)
}

func (d *Dispatcher) throttle(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	return nil
}

// safeSend runs one attempt, turning a panic in the sender into an error and
// giving up when the timeout passes even if the sender ignores ctx.
func (d *Dispatcher) safeSend(ctx context.Context, req appointment.NotificationRequest) error {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("sender panic: %v", r)
			}
		}()
		result <- d.sender.SendBookingConfirmation(ctx, req.PractitionerName, req.PatientName, req.RecipientContact, req.AppointmentAt)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send booking confirmation: %w", ctx.Err())
	}
}

// Shutdown stops accepting confirmations and waits for queued ones to be
// attempted, or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher shutdown: %w", ctx.Err())
	}
}
