package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TransactionEvent mirrors a committed ledger entry on the event stream.
// Amounts travel as exact decimal strings.
type TransactionEvent struct {
	EventType     string    `json:"event_type"` // transaction.committed, transaction.reversed
	TransactionID int64     `json:"transaction_id"`
	TransactionNo string    `json:"transaction_no"`
	Type          string    `json:"type"`
	UserID        int64     `json:"user_id"`
	AccountID     int64     `json:"account_id"`
	LinkID        string    `json:"link_id,omitempty"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	BalanceAfter  string    `json:"balance_after"`
	Timestamp     time.Time `json:"timestamp"`
}

// TransactionEventPublisher streams committed transactions to Kafka.
// Publishing is best effort and never blocks or fails a ledger result.
type TransactionEventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewTransactionEventPublisher(brokers []string, topic string, logger *zap.Logger) *TransactionEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &TransactionEventPublisher{logger: logger}

	if len(brokers) == 0 || topic == "" {
		logger.Info("transaction event publishing disabled: no kafka brokers configured")
		return p
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
	}

	return p
}

// PublishCommitted emits an event for a freshly committed transaction.
func (p *TransactionEventPublisher) PublishCommitted(ctx context.Context, txn *domain.Transaction) {
	eventType := "transaction.committed"
	if txn.Type == domain.TypeReversal {
		eventType = "transaction.reversed"
	}

	event := &TransactionEvent{
		EventType:     eventType,
		TransactionID: txn.ID,
		TransactionNo: txn.TransactionNo,
		Type:          string(txn.Type),
		UserID:        txn.UserID,
		AccountID:     txn.AccountID,
		Amount:        txn.Amount.String(),
		Currency:      txn.Currency,
		BalanceAfter:  txn.BalanceAfter.String(),
		Timestamp:     time.Now(),
	}
	if txn.LinkID != nil {
		event.LinkID = *txn.LinkID
	}

	if err := p.publish(ctx, event); err != nil {
		p.logger.Warn("failed to publish transaction event",
			zap.String("transaction_no", txn.TransactionNo),
			zap.Error(err),
		)
	}
}

func (p *TransactionEventPublisher) publish(ctx context.Context, event *TransactionEvent) error {
	if p == nil || p.writer == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", event.UserID)),
		Value: payload,
	})
}

func (p *TransactionEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
