// Package mailer delivers garage-identifier reminder emails. No transactional
// provider is wired in this deployment, so the default implementation only
// logs the message and reports an explicit "simulated" status; callers must
// never present a simulated delivery as a real one.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Delivery statuses.
const (
	StatusSimulated = "simulated"
	StatusDisabled  = "disabled"
)

var (
	// ErrInvalidMessage indicates missing or malformed message fields.
	ErrInvalidMessage = errors.New("mailer: invalid message")
	// ErrDeliveryDisabled indicates mail delivery is switched off.
	ErrDeliveryDisabled = errors.New("mailer: delivery disabled")
)

// Message is a garage-identifier reminder to one recipient.
type Message struct {
	Email    string `validate:"required,email"`
	GarageID string `validate:"required"`
}

// Delivery reports what actually happened to a message.
type Delivery struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Mailer dispatches (or simulates dispatching) messages.
type Mailer interface {
	Send(ctx context.Context, message Message) (Delivery, error)
}

// LogMailer is the simulated backend: it validates the message, writes it to
// the log, and reports StatusSimulated.
type LogMailer struct {
	logger   *zap.Logger
	validate *validator.Validate
}

// NewLogMailer constructs the simulated mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{
		logger:   logger,
		validate: validator.New(),
	}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, message Message) (Delivery, error) {
	if err := m.validate.Struct(message); err != nil {
		return Delivery{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	m.logger.Info("simulated garage id email",
		zap.String("recipient", message.Email),
		zap.String("garage_id", message.GarageID))

	return Delivery{
		Status: StatusSimulated,
		Detail: fmt.Sprintf("email to %s was simulated, not dispatched", message.Email),
	}, nil
}

// DisabledMailer rejects every send. Used when mail.mode is "disabled".
type DisabledMailer struct{}

// NewDisabledMailer constructs the disabled backend.
func NewDisabledMailer() *DisabledMailer {
	return &DisabledMailer{}
}

// Send implements Mailer.
func (m *DisabledMailer) Send(context.Context, Message) (Delivery, error) {
	return Delivery{Status: StatusDisabled}, ErrDeliveryDisabled
}
