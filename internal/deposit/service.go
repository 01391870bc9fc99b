package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/common/events"
	"cupcycle/internal/wallet"
	walletdomain "cupcycle/internal/wallet/domain"
)

// Ledger is the wallet surface hold management needs
type Ledger interface {
	Apply(ctx context.Context, req wallet.ApplyRequest) (*walletdomain.LedgerEntry, error)
	GetAccountByUser(ctx context.Context, userID string) (*walletdomain.WalletAccount, error)
	GetEntry(ctx context.Context, id string) (*walletdomain.LedgerEntry, error)
}

// Service manages the cup deposit hold lifecycle
type Service struct {
	store     Store
	ledger    Ledger
	amount    int64
	publisher events.Publisher
	logger    *slog.Logger
}

// Config holds deposit configuration
type Config struct {
	// HoldAmount is the refundable deposit per cup, in VND
	HoldAmount int64 `envconfig:"DEPOSIT_HOLD_AMOUNT" default:"20000"`
}

// NewService creates a new deposit service
func NewService(store Store, ledger Ledger, cfg Config, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		amount:    cfg.HoldAmount,
		publisher: publisher,
		logger:    logger,
	}
}

// HoldAmount returns the configured deposit per cup
func (s *Service) HoldAmount() int64 {
	return s.amount
}

// PlaceHold debits the deposit from the user's wallet and opens an
// active hold. Insufficient balance fails before anything is written;
// under concurrency the ledger's row lock lets only the entries the
// balance covers through.
func (s *Service) PlaceHold(ctx context.Context, userID, borrowTxnID string) (*DepositHold, error) {
	account, err := s.ledger.GetAccountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet: %w", err)
	}

	hold, err := NewHold(ulid.Make().String(), userID, account.ID, borrowTxnID, s.amount)
	if err != nil {
		return nil, err
	}

	entry, err := s.ledger.Apply(ctx, wallet.ApplyRequest{
		AccountID:     account.ID,
		Type:          walletdomain.EntryTypeDebit,
		Amount:        hold.Amount,
		ReferenceType: walletdomain.ReferenceCupDeposit,
		ReferenceID:   hold.ID,
		Description:   fmt.Sprintf("cup deposit for borrow %s", borrowTxnID),
	})
	if err != nil {
		return nil, err
	}
	hold.DebitEntryID = entry.ID

	if err := s.store.Create(ctx, hold); err != nil {
		// refund the debit so the failed hold does not eat the deposit
		if _, refundErr := s.ledger.Apply(ctx, wallet.ApplyRequest{
			AccountID:     account.ID,
			Type:          walletdomain.EntryTypeCredit,
			Amount:        hold.Amount,
			ReferenceType: walletdomain.ReferenceAdjustment,
			ReferenceID:   hold.ID,
			Description:   "reversing debit for failed hold",
		}); refundErr != nil {
			s.logger.Error("reversing orphaned deposit debit",
				"hold_id", hold.ID, "entry_id", entry.ID, "error", refundErr)
		}
		return nil, err
	}

	s.logger.Info("deposit hold placed",
		"hold_id", hold.ID,
		"user_id", userID,
		"borrow_transaction_id", borrowTxnID,
		"amount", hold.Amount,
	)

	s.publishHold(ctx, events.EventHoldPlaced, hold)

	return hold, nil
}

// Release refunds the deposit and closes the hold. Releasing an
// already-released hold is a no-op returning the original refund entry;
// forfeited holds cannot be released.
//
// The status transition is won before the refund is written, so two
// racing releases can never both credit: the loser falls back to the
// replay path.
func (s *Service) Release(ctx context.Context, holdID string) (*DepositHold, *walletdomain.LedgerEntry, error) {
	hold, err := s.store.Get(ctx, holdID)
	if err != nil {
		return nil, nil, err
	}
	if hold.Status != HoldActive {
		return s.priorRelease(ctx, hold)
	}

	if err := hold.MarkReleased(""); err != nil {
		return nil, nil, err
	}
	if err := s.store.Update(ctx, hold, HoldActive); err != nil {
		if errors.Is(err, ErrStaleHold) {
			current, getErr := s.store.Get(ctx, holdID)
			if getErr != nil {
				return nil, nil, getErr
			}
			return s.priorRelease(ctx, current)
		}
		return nil, nil, err
	}

	entry, err := s.ledger.Apply(ctx, wallet.ApplyRequest{
		AccountID:     hold.AccountID,
		Type:          walletdomain.EntryTypeCredit,
		Amount:        hold.Amount,
		ReferenceType: walletdomain.ReferenceCupRefund,
		ReferenceID:   hold.ID,
		Description:   fmt.Sprintf("cup deposit refund for borrow %s", hold.BorrowTransactionID),
	})
	if err != nil {
		// hand the hold back so a retry can release it
		hold.Status = HoldActive
		hold.ReleasedAt = nil
		if revertErr := s.store.Update(ctx, hold, HoldReleased); revertErr != nil {
			s.logger.Error("reverting release transition",
				"hold_id", hold.ID, "error", revertErr)
		}
		return nil, nil, fmt.Errorf("refunding deposit: %w", err)
	}

	hold.RefundEntryID = entry.ID
	if err := s.store.Update(ctx, hold, HoldReleased); err != nil {
		return nil, nil, fmt.Errorf("recording refund entry: %w", err)
	}

	s.logger.Info("deposit hold released",
		"hold_id", hold.ID,
		"refund_entry_id", entry.ID,
	)

	s.publishHold(ctx, events.EventHoldReleased, hold)

	return hold, entry, nil
}

// priorRelease resolves a release against a hold that is no longer
// active: replay the original refund, or report the terminal state.
func (s *Service) priorRelease(ctx context.Context, hold *DepositHold) (*DepositHold, *walletdomain.LedgerEntry, error) {
	switch hold.Status {
	case HoldForfeited:
		return nil, nil, ErrHoldForfeited
	case HoldReleased:
		if hold.RefundEntryID == "" {
			// the winning release has not recorded its refund yet
			return nil, nil, fmt.Errorf("refund in flight for hold %s: %w", hold.ID, ErrStaleHold)
		}
		entry, err := s.ledger.GetEntry(ctx, hold.RefundEntryID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading prior refund entry: %w", err)
		}
		return hold, entry, nil
	}
	return nil, nil, ErrStaleHold
}

// Forfeit closes the hold without a refund, keeping the deposit. A
// forfeited hold stays forfeited on replay; released holds are final.
func (s *Service) Forfeit(ctx context.Context, holdID, reason string) (*DepositHold, error) {
	hold, err := s.store.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}

	switch hold.Status {
	case HoldForfeited:
		return hold, nil
	case HoldReleased:
		return nil, ErrHoldReleased
	}

	if err := hold.MarkForfeited(reason); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, hold, HoldActive); err != nil {
		if errors.Is(err, ErrStaleHold) {
			current, getErr := s.store.Get(ctx, holdID)
			if getErr != nil {
				return nil, getErr
			}
			switch current.Status {
			case HoldForfeited:
				return current, nil
			case HoldReleased:
				return nil, ErrHoldReleased
			}
			return nil, ErrStaleHold
		}
		return nil, err
	}

	s.logger.Info("deposit hold forfeited",
		"hold_id", hold.ID,
		"reason", reason,
	)

	s.publishHold(ctx, events.EventHoldForfeited, hold)

	return hold, nil
}

// GetHold retrieves a hold by ID
func (s *Service) GetHold(ctx context.Context, holdID string) (*DepositHold, error) {
	return s.store.Get(ctx, holdID)
}

// ListHolds lists a user's holds
func (s *Service) ListHolds(ctx context.Context, userID string, status *HoldStatus, limit, offset int) ([]*DepositHold, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListByUser(ctx, userID, status, limit, offset)
}

func (s *Service) publishHold(ctx context.Context, eventType string, hold *DepositHold) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, "deposit_hold", hold.ID, events.HoldData{
		HoldID:              hold.ID,
		UserID:              hold.UserID,
		BorrowTransactionID: hold.BorrowTransactionID,
		Amount:              hold.Amount,
		Status:              string(hold.Status),
		Reason:              hold.ForfeitReason,
	})
	if err != nil {
		s.logger.Warn("building event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event failed", "type", eventType, "error", err)
	}
}
