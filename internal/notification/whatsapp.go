package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// State is the lifecycle of the WhatsApp publisher's broker connection.
type State string

const (
	StateInit          State = "init"
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateDisconnected  State = "disconnected"
)

const mimeApplicationJSON = "application/json"

// whatsAppMessage is the payload the WhatsApp gateway consumes from the queue.
type whatsAppMessage struct {
	To               string `json:"to"`
	Message          string `json:"message"`
	PatientName      string `json:"patient_name"`
	PractitionerName string `json:"practitioner_name"`
	AppointmentAt    string `json:"appointment_at"`
}

// WhatsAppPublisher publishes booking confirmations to a RabbitMQ queue read
// by the WhatsApp gateway. It owns its connection: Start dials and keeps
// reconnecting up to maxRetries consecutive failures, Close tears it down.
type WhatsAppPublisher struct {
	url        string
	queue      string
	maxRetries int
	retryDelay time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	state   State
	retries int
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  bool
	done    chan struct{}
}

func NewWhatsAppPublisher(url, queue string, maxRetries int, log *zap.Logger) *WhatsAppPublisher {
	return &WhatsAppPublisher{
		url:        url,
		queue:      queue,
		maxRetries: maxRetries,
		retryDelay: 5 * time.Second,
		log:        log,
		state:      StateInit,
		done:       make(chan struct{}),
	}
}

// State reports the current connection state.
func (p *WhatsAppPublisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *WhatsAppPublisher) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	if prev != s {
		p.log.Info("whatsapp publisher state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// Start connects in the background and returns immediately.
func (p *WhatsAppPublisher) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *WhatsAppPublisher) run(ctx context.Context) {
	for {
		closeCh, err := p.connect()
		if err == nil {
			select {
			case amqpErr := <-closeCh:
				p.setState(StateDisconnected)
				if amqpErr != nil {
					p.log.Warn("whatsapp publisher disconnected", zap.String("reason", amqpErr.Reason))
				}
			case <-ctx.Done():
				p.Close()
				return
			case <-p.done:
				return
			}
		} else {
			p.setState(StateDisconnected)
			p.log.Error("whatsapp publisher connect failed", zap.Error(err))
		}

		p.mu.Lock()
		p.retries++
		attempt, closed := p.retries, p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		if attempt > p.maxRetries {
			p.log.Error("whatsapp publisher giving up after max reconnect attempts", zap.Int("max_retries", p.maxRetries))
			return
		}

		p.log.Info("whatsapp publisher reconnecting", zap.Int("attempt", attempt), zap.Int("max_retries", p.maxRetries))
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			p.Close()
			return
		case <-p.done:
			return
		}
	}
}

func (p *WhatsAppPublisher) connect() (chan *amqp091.Error, error) {
	p.setState(StateConnecting)

	// Dial completes the AMQP handshake, including SASL authentication.
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p.setState(StateAuthenticated)

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", p.queue, err)
	}

	closeCh := conn.NotifyClose(make(chan *amqp091.Error, 1))

	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.retries = 0
	p.mu.Unlock()
	p.setState(StateReady)

	return closeCh, nil
}

func (p *WhatsAppPublisher) SendBookingConfirmation(ctx context.Context, practitionerName, patientName, contact, whenText string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateReady || p.channel == nil {
		return fmt.Errorf("%w: state=%s", ErrNotReady, p.state)
	}

	body, err := json.Marshal(whatsAppMessage{
		To:               contact,
		Message:          ConfirmationText(practitionerName, patientName, whenText),
		PatientName:      patientName,
		PractitionerName: practitionerName,
		AppointmentAt:    whenText,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	headers := amqp091.Table{
		"message_type":     "JSON",
		"requeue_strategy": "DROP",
	}

	message := amqp091.Publishing{
		ContentType:  mimeApplicationJSON,
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Headers:      headers,
	}

	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, message); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

// Close stops reconnecting and closes the broker connection.
func (p *WhatsAppPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	conn := p.conn
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	p.setState(StateDisconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}
