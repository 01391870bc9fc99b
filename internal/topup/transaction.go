// Package topup provides wallet top-ups through external payment providers.
package topup

import (
	"errors"
	"time"
)

// Status represents the status of a payment transaction
type Status string

const (
	StatusPending  Status = "pending"
	StatusCredited Status = "credited"
	StatusFailed   Status = "failed"
)

// Settlement errors
var (
	ErrAlreadyFinalized    = errors.New("transaction already finalized")
	ErrAmountMismatch      = errors.New("settled amount does not match transaction amount")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PaymentTransaction tracks one top-up attempt from creation to
// settlement. Transitions are pending -> credited or pending -> failed
// and nothing else.
type PaymentTransaction struct {
	ID            string     `json:"id"`
	Code          string     `json:"transaction_code"`
	UserID        string     `json:"user_id"`
	AccountID     string     `json:"account_id"`
	Provider      string     `json:"provider"`
	Amount        int64      `json:"amount"`
	Status        Status     `json:"status"`
	ProviderTxnID string     `json:"provider_txn_id,omitempty"`
	LedgerEntryID string     `json:"ledger_entry_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewTransaction creates a pending payment transaction
func NewTransaction(id, code, userID, accountID, provider string, amount int64) (*PaymentTransaction, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if accountID == "" {
		return nil, errors.New("account_id is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &PaymentTransaction{
		ID:        id,
		Code:      code,
		UserID:    userID,
		AccountID: accountID,
		Provider:  provider,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MarkCredited transitions the transaction to credited
func (t *PaymentTransaction) MarkCredited(providerTxnID, ledgerEntryID string) error {
	if t.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	now := time.Now().UTC()
	t.Status = StatusCredited
	t.ProviderTxnID = providerTxnID
	t.LedgerEntryID = ledgerEntryID
	t.SettledAt = &now
	t.UpdatedAt = now
	return nil
}

// MarkFailed transitions the transaction to failed
func (t *PaymentTransaction) MarkFailed(reason string) error {
	if t.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// IsFinalized returns true once the transaction left pending
func (t *PaymentTransaction) IsFinalized() bool {
	return t.Status != StatusPending
}
