package domain

import (
	"errors"
	"fmt"
	"time"

	"cupcycle/internal/common/money"
)

// EntryType represents the direction of a ledger entry
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// ReferenceType identifies the business operation behind an entry
type ReferenceType string

const (
	ReferenceTopUp          ReferenceType = "topup"
	ReferenceWithdrawal     ReferenceType = "withdrawal"
	ReferenceCupDeposit     ReferenceType = "cup_deposit"
	ReferenceCupRefund      ReferenceType = "cup_refund"
	ReferenceDepositForfeit ReferenceType = "deposit_forfeit"
	ReferenceAdjustment     ReferenceType = "adjustment"
)

// Domain errors
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// LedgerEntry is one immutable row in an account's ledger.
// Entries are never updated or deleted once written.
type LedgerEntry struct {
	ID            string         `json:"entry_id"`
	AccountID     string         `json:"account_id"`
	Type          EntryType      `json:"type"`
	Amount        int64          `json:"amount"`
	Currency      money.Currency `json:"currency"`
	BalanceBefore int64          `json:"balance_before"`
	BalanceAfter  int64          `json:"balance_after"`
	ReferenceType ReferenceType  `json:"reference_type"`
	ReferenceID   string         `json:"reference_id"`
	Description   string         `json:"description,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Validate checks entry invariants
func (e *LedgerEntry) Validate() error {
	if e.AccountID == "" {
		return errors.New("account ID is required")
	}
	if e.Type != EntryTypeCredit && e.Type != EntryTypeDebit {
		return fmt.Errorf("invalid entry type: %s", e.Type)
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.ReferenceType == "" {
		return errors.New("reference type is required")
	}
	return nil
}

// Delta returns the signed balance impact of the entry
func (e *LedgerEntry) Delta() int64 {
	if e.Type == EntryTypeDebit {
		return -e.Amount
	}
	return e.Amount
}

// WalletAccount holds the cached balance projection for a user's wallet
type WalletAccount struct {
	ID        string         `json:"account_id"`
	UserID    string         `json:"user_id"`
	Currency  money.Currency `json:"currency"`
	Balance   int64          `json:"balance"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewAccount creates a wallet account with a zero balance
func NewAccount(id, userID string) *WalletAccount {
	now := time.Now().UTC()
	return &WalletAccount{
		ID:        id,
		UserID:    userID,
		Currency:  money.VND,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Rederive folds entries (oldest first) into a balance. The result must
// always equal the cached projection; a mismatch means corruption.
func Rederive(entries []*LedgerEntry) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.Delta()
	}
	return balance
}
