package topup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cupcycle/internal/common/database"
)

// Store persists payment transactions and settlement claims
type Store interface {
	Create(ctx context.Context, txn *PaymentTransaction) error
	GetByCode(ctx context.Context, code string) (*PaymentTransaction, error)
	GetByID(ctx context.Context, id string) (*PaymentTransaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*PaymentTransaction, int64, error)
	Update(ctx context.Context, txn *PaymentTransaction) error
	TryClaim(ctx context.Context, code string) (bool, error)
	ReleaseClaim(ctx context.Context, code string) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*PaymentTransaction, error)
}

// PGStore is the Postgres-backed Store
type PGStore struct {
	db *database.DB
}

// NewStore creates a new Postgres store
func NewStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

const txnColumns = `
	id, transaction_code, user_id, account_id, provider, amount, status,
	provider_txn_id, ledger_entry_id, failure_reason, settled_at,
	created_at, updated_at
`

// Create inserts a pending transaction
func (s *PGStore) Create(ctx context.Context, txn *PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (` + txnColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.Exec(ctx, query,
		txn.ID,
		txn.Code,
		txn.UserID,
		txn.AccountID,
		txn.Provider,
		txn.Amount,
		txn.Status,
		nullStr(txn.ProviderTxnID),
		nullStr(txn.LedgerEntryID),
		nullStr(txn.FailureReason),
		txn.SettledAt,
		txn.CreatedAt,
		txn.UpdatedAt,
	)

	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction code %s already exists: %w", txn.Code, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating transaction: %w", err)
	}

	return nil
}

// GetByCode retrieves a transaction by its code
func (s *PGStore) GetByCode(ctx context.Context, code string) (*PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE transaction_code = $1`

	row := s.db.QueryRow(ctx, query, code)
	return scanTransaction(row)
}

// GetByID retrieves a transaction by ID
func (s *PGStore) GetByID(ctx context.Context, id string) (*PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE id = $1`

	row := s.db.QueryRow(ctx, query, id)
	return scanTransaction(row)
}

// ListByUser lists a user's transactions, newest first
func (s *PGStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*PaymentTransaction, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM payment_transactions WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	query := `SELECT ` + txnColumns + `
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	` + fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txns []*PaymentTransaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, txn)
	}

	return txns, total, nil
}

// Update persists the transaction's mutable fields. Only pending rows
// are written: finalized transactions never change again, so a racing
// finalization surfaces as ErrAlreadyFinalized instead of a reversal.
func (s *PGStore) Update(ctx context.Context, txn *PaymentTransaction) error {
	query := `
		UPDATE payment_transactions
		SET status = $1, provider_txn_id = $2, ledger_entry_id = $3,
			failure_reason = $4, settled_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`

	tag, err := s.db.Exec(ctx, query,
		txn.Status,
		nullStr(txn.ProviderTxnID),
		nullStr(txn.LedgerEntryID),
		nullStr(txn.FailureReason),
		txn.SettledAt,
		txn.UpdatedAt,
		txn.ID,
		StatusPending,
	)
	if err != nil {
		return fmt.Errorf("updating transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyFinalized
	}

	return nil
}

// TryClaim atomically claims the settlement of a transaction. The first
// delivery wins the insert; every redelivery sees a conflict and backs
// off to the success-no-op path.
func (s *PGStore) TryClaim(ctx context.Context, code string) (bool, error) {
	query := `
		INSERT INTO settlement_claims (transaction_code, claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (transaction_code) DO NOTHING
	`

	tag, err := s.db.Exec(ctx, query, code, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claiming settlement: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim drops a claim after a failed credit so a redelivery can
// try again
func (s *PGStore) ReleaseClaim(ctx context.Context, code string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM settlement_claims WHERE transaction_code = $1`, code)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return nil
}

// ListPendingOlderThan returns pending transactions created before cutoff
func (s *PGStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + `
		FROM payment_transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`

	rows, err := s.db.Query(ctx, query, StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []*PaymentTransaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, nil
}

func scanTransaction(row pgx.Row) (*PaymentTransaction, error) {
	var t PaymentTransaction
	var providerTxnID, ledgerEntryID, failureReason *string
	err := row.Scan(
		&t.ID, &t.Code, &t.UserID, &t.AccountID, &t.Provider, &t.Amount, &t.Status,
		&providerTxnID, &ledgerEntryID, &failureReason, &t.SettledAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	setOptional(&t, providerTxnID, ledgerEntryID, failureReason)
	return &t, nil
}

func scanTransactionRows(rows pgx.Rows) (*PaymentTransaction, error) {
	var t PaymentTransaction
	var providerTxnID, ledgerEntryID, failureReason *string
	err := rows.Scan(
		&t.ID, &t.Code, &t.UserID, &t.AccountID, &t.Provider, &t.Amount, &t.Status,
		&providerTxnID, &ledgerEntryID, &failureReason, &t.SettledAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	setOptional(&t, providerTxnID, ledgerEntryID, failureReason)
	return &t, nil
}

func setOptional(t *PaymentTransaction, providerTxnID, ledgerEntryID, failureReason *string) {
	if providerTxnID != nil {
		t.ProviderTxnID = *providerTxnID
	}
	if ledgerEntryID != nil {
		t.LedgerEntryID = *ledgerEntryID
	}
	if failureReason != nil {
		t.FailureReason = *failureReason
	}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
