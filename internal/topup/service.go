package topup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/common/events"
	"cupcycle/internal/providers"
	"cupcycle/internal/wallet"
	walletdomain "cupcycle/internal/wallet/domain"
)

// Ledger is the wallet surface the settlement pipeline needs
type Ledger interface {
	Apply(ctx context.Context, req wallet.ApplyRequest) (*walletdomain.LedgerEntry, error)
	GetAccountByUser(ctx context.Context, userID string) (*walletdomain.WalletAccount, error)
}

// Service orchestrates top-up creation and provider settlement
type Service struct {
	store     Store
	ledger    Ledger
	registry  *providers.Registry
	limits    providers.Limits
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService creates a new top-up service
func NewService(store Store, ledger Ledger, registry *providers.Registry, limits providers.Limits, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		registry:  registry,
		limits:    limits,
		publisher: publisher,
		logger:    logger,
	}
}

// CreateTopUpRequest starts a top-up
type CreateTopUpRequest struct {
	UserID    string
	Provider  string
	Amount    int64
	OrderInfo string
	ReturnURL string
	ClientIP  string
}

// CreateTopUp creates a pending transaction and asks the provider how
// the user should pay
func (s *Service) CreateTopUp(ctx context.Context, req CreateTopUpRequest) (*PaymentTransaction, *providers.PaymentInstruction, error) {
	if err := s.limits.Check(req.Amount); err != nil {
		return nil, nil, err
	}

	adapter, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, nil, err
	}

	account, err := s.ledger.GetAccountByUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("getting wallet: %w", err)
	}

	code := ulid.Make().String()
	txn, err := NewTransaction(ulid.Make().String(), code, req.UserID, account.ID, req.Provider, req.Amount)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.Create(ctx, txn); err != nil {
		return nil, nil, err
	}

	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = fmt.Sprintf("cupcycle topup %s", code)
	}

	instruction, err := adapter.CreatePayment(ctx, providers.CreatePaymentRequest{
		TransactionCode: code,
		Amount:          req.Amount,
		OrderInfo:       orderInfo,
		ReturnURL:       req.ReturnURL,
		ClientIP:        req.ClientIP,
	})
	if err != nil {
		if failErr := txn.MarkFailed(fmt.Sprintf("provider create failed: %v", err)); failErr == nil {
			if updateErr := s.store.Update(ctx, txn); updateErr != nil {
				s.logger.Error("marking transaction failed", "code", code, "error", updateErr)
			}
		}
		return nil, nil, fmt.Errorf("creating payment with %s: %w", req.Provider, err)
	}

	s.logger.Info("topup created",
		"code", code,
		"user_id", req.UserID,
		"provider", req.Provider,
		"amount", req.Amount,
	)

	s.publishTopUp(ctx, events.EventTopUpCreated, txn)

	return txn, instruction, nil
}

// GetTransaction retrieves a transaction by code
func (s *Service) GetTransaction(ctx context.Context, code string) (*PaymentTransaction, error) {
	return s.store.GetByCode(ctx, code)
}

// ListTransactions lists a user's transactions
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*PaymentTransaction, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// HandleCallback runs the settlement pipeline for one provider
// delivery. The returned adapter and outcome let the HTTP layer write
// the provider-specific acknowledgment; the error is for logging only.
//
// Pipeline: parse/verify -> load transaction -> failed path -> claim ->
// amount check -> ledger credit -> mark credited. Redeliveries lose the
// claim and are acknowledged as already processed.
func (s *Service) HandleCallback(ctx context.Context, providerName string, r *http.Request) (providers.Adapter, providers.AckOutcome, error) {
	adapter, outcome, err := s.handleCallback(ctx, providerName, r)
	if err != nil {
		s.logger.Warn("callback not settled",
			"provider", providerName,
			"outcome", int(outcome),
			"error", err,
		)
	}
	return adapter, outcome, err
}

func (s *Service) handleCallback(ctx context.Context, providerName string, r *http.Request) (providers.Adapter, providers.AckOutcome, error) {
	adapter, err := s.registry.Get(providerName)
	if err != nil {
		return nil, providers.AckFailure, err
	}

	event, err := adapter.ParseCallback(r)
	if err != nil {
		if errors.Is(err, providers.ErrSignatureMismatch) {
			s.publishAudit(ctx, providerName, "callback_signature_mismatch")
			return adapter, providers.AckInvalidSignature, err
		}
		return adapter, providers.AckFailure, err
	}

	txn, err := s.store.GetByCode(ctx, event.ReferenceCode)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return adapter, providers.AckOrderNotFound, err
		}
		return adapter, providers.AckFailure, err
	}

	if !event.Succeeded {
		if txn.IsFinalized() {
			return adapter, providers.AckAlreadyProcessed, nil
		}
		if err := s.failTransaction(ctx, txn, event.FailureReason); err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				return adapter, providers.AckAlreadyProcessed, nil
			}
			return adapter, providers.AckFailure, err
		}
		return adapter, providers.AckSuccess, nil
	}

	claimed, err := s.store.TryClaim(ctx, txn.Code)
	if err != nil {
		return adapter, providers.AckFailure, err
	}
	if !claimed {
		return adapter, providers.AckAlreadyProcessed, nil
	}

	// re-load after winning the claim: the snapshot above predates it,
	// and a failure callback or expiry sweep may have finalized since
	txn, err = s.store.GetByCode(ctx, event.ReferenceCode)
	if err != nil {
		if releaseErr := s.store.ReleaseClaim(ctx, event.ReferenceCode); releaseErr != nil {
			s.logger.Error("releasing claim", "code", event.ReferenceCode, "error", releaseErr)
		}
		return adapter, providers.AckFailure, err
	}

	if txn.IsFinalized() {
		// claimed but finalized: an expiry sweep or failure beat us here
		return adapter, providers.AckAlreadyProcessed, fmt.Errorf("late callback for %s: %w", txn.Code, ErrAlreadyFinalized)
	}

	if event.Amount != txn.Amount {
		s.publishAudit(ctx, providerName, fmt.Sprintf("amount_mismatch code=%s expected=%d got=%d", txn.Code, txn.Amount, event.Amount))
		reason := fmt.Sprintf("%v: expected %d, got %d", ErrAmountMismatch, txn.Amount, event.Amount)
		if err := s.failTransaction(ctx, txn, reason); err != nil && !errors.Is(err, ErrAlreadyFinalized) {
			return adapter, providers.AckFailure, err
		}
		return adapter, providers.AckFailure, ErrAmountMismatch
	}

	// the code is the end-to-end settlement key, so the entry joins
	// directly to provider callbacks and settlement claims
	entry, err := s.ledger.Apply(ctx, wallet.ApplyRequest{
		AccountID:     txn.AccountID,
		Type:          walletdomain.EntryTypeCredit,
		Amount:        txn.Amount,
		ReferenceType: walletdomain.ReferenceTopUp,
		ReferenceID:   txn.Code,
		Description:   fmt.Sprintf("topup via %s", txn.Provider),
	})
	if err != nil {
		// release the claim so the gateway's redelivery can retry the credit
		if releaseErr := s.store.ReleaseClaim(ctx, txn.Code); releaseErr != nil {
			s.logger.Error("releasing claim", "code", txn.Code, "error", releaseErr)
		}
		return adapter, providers.AckFailure, fmt.Errorf("crediting wallet: %w", err)
	}

	if err := txn.MarkCredited(event.ProviderTxnID, entry.ID); err != nil {
		return adapter, providers.AckAlreadyProcessed, err
	}
	if err := s.store.Update(ctx, txn); err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			// credit landed but a failure finalized the row in between;
			// the entry id is logged for reconciliation
			s.logger.Error("credit applied to finalized transaction",
				"code", txn.Code, "entry_id", entry.ID)
			return adapter, providers.AckAlreadyProcessed, err
		}
		// the claim stays held: releasing it here would let a redelivery
		// credit a second time
		return adapter, providers.AckFailure, err
	}

	s.logger.Info("topup credited",
		"code", txn.Code,
		"provider", txn.Provider,
		"amount", txn.Amount,
		"entry_id", entry.ID,
	)

	s.publishTopUp(ctx, events.EventTopUpCredited, txn)

	return adapter, providers.AckSuccess, nil
}

// ExpirePending fails pending transactions older than maxAge. Late
// callbacks for expired transactions lose against the finalized status
// and are acknowledged as already processed.
func (s *Service) ExpirePending(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	stale, err := s.store.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, txn := range stale {
		// the claim fences against a concurrently arriving callback
		claimed, err := s.store.TryClaim(ctx, txn.Code)
		if err != nil {
			return expired, err
		}
		if !claimed {
			continue
		}

		if err := s.failTransaction(ctx, txn, "expired before settlement"); err != nil {
			if errors.Is(err, ErrAlreadyFinalized) {
				continue
			}
			return expired, err
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired pending topups", "count", expired)
	}

	return expired, nil
}

func (s *Service) failTransaction(ctx context.Context, txn *PaymentTransaction, reason string) error {
	if err := txn.MarkFailed(reason); err != nil {
		return err
	}
	if err := s.store.Update(ctx, txn); err != nil {
		return err
	}

	s.logger.Info("topup failed",
		"code", txn.Code,
		"provider", txn.Provider,
		"reason", reason,
	)

	s.publishTopUp(ctx, events.EventTopUpFailed, txn)
	return nil
}

func (s *Service) publishTopUp(ctx context.Context, eventType string, txn *PaymentTransaction) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, "payment_transaction", txn.ID, events.TopUpData{
		TransactionCode: txn.Code,
		UserID:          txn.UserID,
		Provider:        txn.Provider,
		Amount:          txn.Amount,
		Status:          string(txn.Status),
		ProviderTxnID:   txn.ProviderTxnID,
		FailureReason:   txn.FailureReason,
	})
	if err != nil {
		s.logger.Warn("building event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event failed", "type", eventType, "error", err)
	}
}

func (s *Service) publishAudit(ctx context.Context, providerName, action string) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.EventAuditRecorded, "provider", providerName, events.AuditData{
		Actor:  providerName,
		Action: action,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing audit event failed", "error", err)
	}
}
