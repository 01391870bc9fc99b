package deposit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cupcycle/internal/common/database"
)

// Store persists deposit holds
type Store interface {
	Create(ctx context.Context, hold *DepositHold) error
	Get(ctx context.Context, id string) (*DepositHold, error)
	ListByUser(ctx context.Context, userID string, status *HoldStatus, limit, offset int) ([]*DepositHold, int64, error)
	Update(ctx context.Context, hold *DepositHold, expected HoldStatus) error
}

// PGStore is the Postgres-backed Store
type PGStore struct {
	db *database.DB
}

// NewStore creates a new Postgres store
func NewStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

const holdColumns = `
	id, user_id, account_id, borrow_transaction_id, amount, status,
	debit_entry_id, refund_entry_id, forfeit_reason, released_at,
	forfeited_at, created_at, updated_at
`

// Create inserts an active hold
func (s *PGStore) Create(ctx context.Context, hold *DepositHold) error {
	query := `
		INSERT INTO deposit_holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.Exec(ctx, query,
		hold.ID,
		hold.UserID,
		hold.AccountID,
		hold.BorrowTransactionID,
		hold.Amount,
		hold.Status,
		nullStr(hold.DebitEntryID),
		nullStr(hold.RefundEntryID),
		nullStr(hold.ForfeitReason),
		hold.ReleasedAt,
		hold.ForfeitedAt,
		hold.CreatedAt,
		hold.UpdatedAt,
	)

	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("hold for borrow %s already exists: %w", hold.BorrowTransactionID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating hold: %w", err)
	}

	return nil
}

// Get retrieves a hold by ID
func (s *PGStore) Get(ctx context.Context, id string) (*DepositHold, error) {
	query := `SELECT ` + holdColumns + ` FROM deposit_holds WHERE id = $1`

	row := s.db.QueryRow(ctx, query, id)
	return scanHold(row)
}

// ListByUser lists a user's holds, newest first
func (s *PGStore) ListByUser(ctx context.Context, userID string, status *HoldStatus, limit, offset int) ([]*DepositHold, int64, error) {
	countQuery := `SELECT COUNT(*) FROM deposit_holds WHERE user_id = $1`
	query := `SELECT ` + holdColumns + ` FROM deposit_holds WHERE user_id = $1`

	args := []interface{}{userID}
	if status != nil {
		countQuery += ` AND status = $2`
		query += ` AND status = $2`
		args = append(args, *status)
	}

	var total int64
	err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting holds: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing holds: %w", err)
	}
	defer rows.Close()

	var holds []*DepositHold
	for rows.Next() {
		hold, err := scanHoldRows(rows)
		if err != nil {
			return nil, 0, err
		}
		holds = append(holds, hold)
	}

	return holds, total, nil
}

// Update persists a hold transition, guarded by the status the caller
// read. ErrStaleHold means another transition won the row first.
func (s *PGStore) Update(ctx context.Context, hold *DepositHold, expected HoldStatus) error {
	query := `
		UPDATE deposit_holds
		SET status = $1, refund_entry_id = $2, forfeit_reason = $3,
			released_at = $4, forfeited_at = $5, updated_at = $6
		WHERE id = $7 AND status = $8
	`

	tag, err := s.db.Exec(ctx, query,
		hold.Status,
		nullStr(hold.RefundEntryID),
		nullStr(hold.ForfeitReason),
		hold.ReleasedAt,
		hold.ForfeitedAt,
		hold.UpdatedAt,
		hold.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("updating hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleHold
	}

	return nil
}

func scanHold(row pgx.Row) (*DepositHold, error) {
	var h DepositHold
	var debitEntryID, refundEntryID, forfeitReason *string
	err := row.Scan(
		&h.ID, &h.UserID, &h.AccountID, &h.BorrowTransactionID, &h.Amount, &h.Status,
		&debitEntryID, &refundEntryID, &forfeitReason, &h.ReleasedAt,
		&h.ForfeitedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoldNotFound
		}
		return nil, fmt.Errorf("scanning hold: %w", err)
	}
	setOptional(&h, debitEntryID, refundEntryID, forfeitReason)
	return &h, nil
}

func scanHoldRows(rows pgx.Rows) (*DepositHold, error) {
	var h DepositHold
	var debitEntryID, refundEntryID, forfeitReason *string
	err := rows.Scan(
		&h.ID, &h.UserID, &h.AccountID, &h.BorrowTransactionID, &h.Amount, &h.Status,
		&debitEntryID, &refundEntryID, &forfeitReason, &h.ReleasedAt,
		&h.ForfeitedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning hold: %w", err)
	}
	setOptional(&h, debitEntryID, refundEntryID, forfeitReason)
	return &h, nil
}

func setOptional(h *DepositHold, debitEntryID, refundEntryID, forfeitReason *string) {
	if debitEntryID != nil {
		h.DebitEntryID = *debitEntryID
	}
	if refundEntryID != nil {
		h.RefundEntryID = *refundEntryID
	}
	if forfeitReason != nil {
		h.ForfeitReason = *forfeitReason
	}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
