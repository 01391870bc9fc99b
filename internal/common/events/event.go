package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher publishes events to a message broker
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Event types
const (
	// Wallet events
	EventWalletCreated  = "wallet.created"
	EventWalletCredited = "wallet.credited"
	EventWalletDebited  = "wallet.debited"

	// Top-up events
	EventTopUpCreated  = "topup.created"
	EventTopUpCredited = "topup.credited"
	EventTopUpFailed   = "topup.failed"

	// Deposit hold events
	EventHoldPlaced    = "hold.placed"
	EventHoldReleased  = "hold.released"
	EventHoldForfeited = "hold.forfeited"

	// Audit events
	EventAuditRecorded = "audit.recorded"

	// User notification requests (consumed by the notification service)
	EventNotifyUser = "notify.user"
)

// WalletEntryData is the data for wallet.credited / wallet.debited events
type WalletEntryData struct {
	EntryID       string `json:"entry_id"`
	AccountID     string `json:"account_id"`
	Amount        int64  `json:"amount"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	BalanceAfter  int64  `json:"balance_after"`
}

// TopUpData is the data for topup.* events
type TopUpData struct {
	TransactionCode string `json:"transaction_code"`
	UserID          string `json:"user_id"`
	Provider        string `json:"provider"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
	ProviderTxnID   string `json:"provider_txn_id,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// HoldData is the data for hold.* events
type HoldData struct {
	HoldID              string `json:"hold_id"`
	UserID              string `json:"user_id"`
	BorrowTransactionID string `json:"borrow_transaction_id"`
	Amount              int64  `json:"amount"`
	Status              string `json:"status"`
	Reason              string `json:"reason,omitempty"`
}

// AuditData is the data for audit.recorded events
type AuditData struct {
	Actor    string `json:"actor"`
	Action   string `json:"action"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// NotifyUserData is the data for notify.user events
type NotifyUserData struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}
