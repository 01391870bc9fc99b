package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cupcycle/internal/common/database"
	"cupcycle/internal/wallet/domain"
)

// Store provides wallet data access
type Store struct {
	db *database.DB
}

// New creates a new wallet store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateAccount creates a new wallet account
func (s *Store) CreateAccount(ctx context.Context, account *domain.WalletAccount) error {
	query := `
		INSERT INTO wallet_accounts (
			id, user_id, currency, balance, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.db.Exec(ctx, query,
		account.ID,
		account.UserID,
		account.Currency,
		account.Balance,
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("wallet for user %s already exists: %w", account.UserID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.WalletAccount, error) {
	query := `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallet_accounts
		WHERE id = $1
	`

	row := s.db.QueryRow(ctx, query, id)
	return scanAccount(row)
}

// GetAccountByUser retrieves a user's wallet account
func (s *Store) GetAccountByUser(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	query := `
		SELECT id, user_id, currency, balance, created_at, updated_at
		FROM wallet_accounts
		WHERE user_id = $1
	`

	row := s.db.QueryRow(ctx, query, userID)
	return scanAccount(row)
}

// Apply appends an entry to the account's ledger and updates the cached
// balance in one transaction. The account row is locked FOR UPDATE so
// concurrent entries for the same account serialize; debits that would
// take the balance below zero are rejected before anything is written.
func (s *Store) Apply(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `
			SELECT balance FROM wallet_accounts WHERE id = $1 FOR UPDATE
		`, entry.AccountID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("locking account: %w", err)
		}

		entry.BalanceBefore = balance
		entry.BalanceAfter = balance + entry.Delta()

		if entry.BalanceAfter < 0 {
			return domain.ErrInsufficientFunds
		}

		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_entries (
				id, account_id, entry_type, amount, currency,
				balance_before, balance_after, reference_type, reference_id,
				description, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
			)
		`,
			entry.ID,
			entry.AccountID,
			entry.Type,
			entry.Amount,
			entry.Currency,
			entry.BalanceBefore,
			entry.BalanceAfter,
			entry.ReferenceType,
			entry.ReferenceID,
			nullStr(entry.Description),
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE wallet_accounts SET balance = $1, updated_at = $2 WHERE id = $3
		`, entry.BalanceAfter, entry.CreatedAt, entry.AccountID)
		if err != nil {
			return fmt.Errorf("updating balance: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// GetBalance retrieves the cached balance for an account
func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	query := `SELECT balance FROM wallet_accounts WHERE id = $1`

	var balance int64
	err := s.db.QueryRow(ctx, query, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, fmt.Errorf("getting balance: %w", err)
	}

	return balance, nil
}

// HistoryFilter narrows a ledger history query
type HistoryFilter struct {
	ReferenceType *domain.ReferenceType
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// GetHistory retrieves an account's entries, newest first
func (s *Store) GetHistory(ctx context.Context, accountID string, filter HistoryFilter) ([]*domain.LedgerEntry, int64, error) {
	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`
	query := `
		SELECT id, account_id, entry_type, amount, currency,
			   balance_before, balance_after, reference_type, reference_id,
			   description, created_at
		FROM ledger_entries
		WHERE account_id = $1
	`
	args := []interface{}{accountID}
	argIdx := 2

	if filter.ReferenceType != nil {
		countQuery += fmt.Sprintf(` AND reference_type = $%d`, argIdx)
		query += fmt.Sprintf(` AND reference_type = $%d`, argIdx)
		args = append(args, *filter.ReferenceType)
		argIdx++
	}

	if filter.From != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.From)
		argIdx++
	}

	if filter.To != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *filter.To)
	}

	var total int64
	err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, filter.Limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	return entries, total, err
}

// GetEntry retrieves a single ledger entry by ID
func (s *Store) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	query := `
		SELECT id, account_id, entry_type, amount, currency,
			   balance_before, balance_after, reference_type, reference_id,
			   description, created_at
		FROM ledger_entries
		WHERE id = $1
	`

	row := s.db.QueryRow(ctx, query, id)
	return scanEntry(row)
}

func scanAccount(row pgx.Row) (*domain.WalletAccount, error) {
	var a domain.WalletAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var description *string
	err := row.Scan(
		&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.Currency,
		&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceType, &e.ReferenceID,
		&description, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	if description != nil {
		e.Description = *description
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var description *string
		err := rows.Scan(
			&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.Currency,
			&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceType, &e.ReferenceID,
			&description, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if description != nil {
			e.Description = *description
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
