package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/common/database"
	"cupcycle/internal/common/events"
	"cupcycle/internal/common/money"
	"cupcycle/internal/wallet/domain"
	"cupcycle/internal/wallet/store"
)

// Service provides wallet ledger operations
type Service struct {
	store     *store.Store
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a new wallet service
func NewService(db *database.DB, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store.New(db),
		publisher: publisher,
		logger:    logger,
	}
}

// CreateAccount provisions a wallet for a user. Each user has at most one.
func (s *Service) CreateAccount(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	account := domain.NewAccount(ulid.Make().String(), userID)

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("wallet account created",
		"account_id", account.ID,
		"user_id", userID,
	)

	s.publish(ctx, events.EventWalletCreated, account.ID, events.WalletEntryData{
		AccountID: account.ID,
	})

	return account, nil
}

// GetAccount retrieves an account by ID
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.WalletAccount, error) {
	return s.store.GetAccount(ctx, id)
}

// GetAccountByUser retrieves a user's wallet account
func (s *Service) GetAccountByUser(ctx context.Context, userID string) (*domain.WalletAccount, error) {
	return s.store.GetAccountByUser(ctx, userID)
}

// ApplyRequest describes a single ledger mutation
type ApplyRequest struct {
	AccountID     string
	Type          domain.EntryType
	Amount        int64
	ReferenceType domain.ReferenceType
	ReferenceID   string
	Description   string
}

// Apply appends a ledger entry atomically. Debits that would take the
// balance below zero fail with domain.ErrInsufficientFunds.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*domain.LedgerEntry, error) {
	entry := &domain.LedgerEntry{
		ID:            ulid.Make().String(),
		AccountID:     req.AccountID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      money.VND,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
		CreatedAt:     time.Now().UTC(),
	}

	entry, err := s.store.Apply(ctx, entry)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger entry applied",
		"entry_id", entry.ID,
		"account_id", entry.AccountID,
		"type", entry.Type,
		"amount", entry.Amount,
		"reference_type", entry.ReferenceType,
		"balance_after", entry.BalanceAfter,
	)

	eventType := events.EventWalletCredited
	if entry.Type == domain.EntryTypeDebit {
		eventType = events.EventWalletDebited
	}
	s.publish(ctx, eventType, entry.AccountID, events.WalletEntryData{
		EntryID:       entry.ID,
		AccountID:     entry.AccountID,
		Amount:        entry.Amount,
		ReferenceType: string(entry.ReferenceType),
		ReferenceID:   entry.ReferenceID,
		BalanceAfter:  entry.BalanceAfter,
	})

	return entry, nil
}

// GetBalance retrieves the cached balance for an account
func (s *Service) GetBalance(ctx context.Context, accountID string) (int64, error) {
	return s.store.GetBalance(ctx, accountID)
}

// GetHistory retrieves an account's entries, newest first
func (s *Service) GetHistory(ctx context.Context, accountID string, filter store.HistoryFilter) ([]*domain.LedgerEntry, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	return s.store.GetHistory(ctx, accountID, filter)
}

// GetEntry retrieves a single ledger entry
func (s *Service) GetEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// VerifyBalance rederives the balance from the full history and compares
// it to the cached projection. Used by reconciliation tooling.
func (s *Service) VerifyBalance(ctx context.Context, accountID string) error {
	cached, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return err
	}

	var all []*domain.LedgerEntry
	offset := 0
	for {
		page, total, err := s.store.GetHistory(ctx, accountID, store.HistoryFilter{Limit: 500, Offset: offset})
		if err != nil {
			return err
		}
		all = append(all, page...)
		offset += len(page)
		if int64(offset) >= total || len(page) == 0 {
			break
		}
	}

	if derived := domain.Rederive(all); derived != cached {
		return fmt.Errorf("balance mismatch for account %s: cached %d, derived %d", accountID, cached, derived)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, aggregateID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, "wallet_account", aggregateID, data)
	if err != nil {
		s.logger.Warn("building event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event failed", "type", eventType, "error", err)
	}
}
