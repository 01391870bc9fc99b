// Package deposit manages refundable cup-deposit holds against wallet balances.
package deposit

import (
	"errors"
	"time"
)

// HoldStatus represents the lifecycle state of a deposit hold
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldReleased  HoldStatus = "released"
	HoldForfeited HoldStatus = "forfeited"
)

// Hold errors
var (
	ErrHoldNotFound  = errors.New("hold not found")
	ErrHoldReleased  = errors.New("hold already released")
	ErrHoldForfeited = errors.New("hold already forfeited")
	ErrStaleHold     = errors.New("hold changed concurrently")
)

// DepositHold tracks one cup deposit from debit to refund or forfeit.
// The debit entry is written when the hold is placed; the refund entry
// only on release. Forfeits keep the money without a further entry.
type DepositHold struct {
	ID                  string     `json:"hold_id"`
	UserID              string     `json:"user_id"`
	AccountID           string     `json:"account_id"`
	BorrowTransactionID string     `json:"borrow_transaction_id"`
	Amount              int64      `json:"amount"`
	Status              HoldStatus `json:"status"`
	DebitEntryID        string     `json:"debit_entry_id"`
	RefundEntryID       string     `json:"refund_entry_id,omitempty"`
	ForfeitReason       string     `json:"forfeit_reason,omitempty"`
	ReleasedAt          *time.Time `json:"released_at,omitempty"`
	ForfeitedAt         *time.Time `json:"forfeited_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// NewHold creates an active hold
func NewHold(id, userID, accountID, borrowTxnID string, amount int64) (*DepositHold, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if borrowTxnID == "" {
		return nil, errors.New("borrow_transaction_id is required")
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	return &DepositHold{
		ID:                  id,
		UserID:              userID,
		AccountID:           accountID,
		BorrowTransactionID: borrowTxnID,
		Amount:              amount,
		Status:              HoldActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// MarkReleased transitions the hold to released, recording the refund
// entry for idempotent replay
func (h *DepositHold) MarkReleased(refundEntryID string) error {
	switch h.Status {
	case HoldReleased:
		return ErrHoldReleased
	case HoldForfeited:
		return ErrHoldForfeited
	}
	now := time.Now().UTC()
	h.Status = HoldReleased
	h.RefundEntryID = refundEntryID
	h.ReleasedAt = &now
	h.UpdatedAt = now
	return nil
}

// MarkForfeited transitions the hold to forfeited
func (h *DepositHold) MarkForfeited(reason string) error {
	switch h.Status {
	case HoldReleased:
		return ErrHoldReleased
	case HoldForfeited:
		return ErrHoldForfeited
	}
	now := time.Now().UTC()
	h.Status = HoldForfeited
	h.ForfeitReason = reason
	h.ForfeitedAt = &now
	h.UpdatedAt = now
	return nil
}
