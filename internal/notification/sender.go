package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrNotReady = errors.New("notification channel not ready")

// Sender is the notification port: one best-effort attempt to deliver a
// booking confirmation. Callers only see success or failure of that attempt.
type Sender interface {
	SendBookingConfirmation(ctx context.Context, practitionerName, patientName, contact, whenText string) error
}

// ConfirmationText renders the message a patient receives after booking.
func ConfirmationText(practitionerName, patientName, whenText string) string {
	return fmt.Sprintf("Hello %s, your appointment with Dr. %s has been confirmed for %s.", patientName, practitionerName, whenText)
}

// LogSender writes confirmations to the log instead of delivering them. It is
// used when no message broker is configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendBookingConfirmation(ctx context.Context, practitionerName, patientName, contact, whenText string) error {
	s.log.Info("booking confirmation (log only)",
		zap.String("contact", contact),
		zap.String("message", ConfirmationText(practitionerName, patientName, whenText)),
	)
	return nil
}
