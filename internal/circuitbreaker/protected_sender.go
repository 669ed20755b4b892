package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ChatSender mirrors the sender interface to avoid a circular import.
type ChatSender interface {
	Send(ctx context.Context, roomID int64, text string) error
}

// ProtectedSender wraps a chat sender with a CircuitBreaker. When the
// chat endpoint starts failing, the circuit opens and sends fail fast;
// the messages stay pending in the queue and will be retried by later
// dispatch cycles once the endpoint recovers.
type ProtectedSender struct {
	sender  ChatSender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with breaker protection.
func NewProtectedSender(sender ChatSender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers through the breaker. An open circuit returns
// ErrCircuitOpen without touching the network.
func (p *ProtectedSender) Send(ctx context.Context, roomID int64, text string) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.Int64("room_id", roomID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := p.sender.Send(ctx, roomID, text); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the underlying breaker for health reporting.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
