package notification

import (
	"context"
	"log/slog"
)

// Lifecycle event kinds published for the notification fan-out and the chat
// transport to render as in-conversation cards.
const (
	KindWithdrawalSubmitted = "withdrawal_submitted"
	KindWithdrawalConfirmed = "withdrawal_confirmed"
	KindWithdrawalFailed    = "withdrawal_failed"

	KindTransferCreated   = "transfer_created"
	KindTransferClaimed   = "transfer_claimed"
	KindTransferCancelled = "transfer_cancelled"
	KindTransferExpired   = "transfer_expired"

	KindDistributionCreated   = "distribution_created"
	KindDistributionClaimed   = "distribution_claimed"
	KindDistributionCompleted = "distribution_completed"
	KindDistributionCancelled = "distribution_cancelled"
	KindDistributionExpired   = "distribution_expired"
)

// Message describes a lifecycle event payload.
type Message struct {
	Kind           string
	Destination    string
	ConversationID string
	EntityID       string
	Amount         int64
	Body           string
}

// Notifier delivers lifecycle events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes events to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("lifecycle event",
		"kind", message.Kind,
		"destination", message.Destination,
		"conversation_id", message.ConversationID,
		"entity_id", message.EntityID,
		"amount", message.Amount,
		"body", message.Body,
	)
	return nil
}
