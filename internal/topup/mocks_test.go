package topup

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/providers"
	"cupcycle/internal/wallet"
	walletdomain "cupcycle/internal/wallet/domain"
)

// fakeStore is an in-memory Store. getHook, when set, runs once after
// the next GetByCode returns its snapshot, letting tests interleave a
// concurrent finalization between load and claim.
type fakeStore struct {
	mu      sync.Mutex
	byCode  map[string]*PaymentTransaction
	claims  map[string]bool
	getHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byCode: make(map[string]*PaymentTransaction),
		claims: make(map[string]bool),
	}
}

func (s *fakeStore) Create(_ context.Context, txn *PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *txn
	s.byCode[txn.Code] = &cp
	return nil
}

func (s *fakeStore) GetByCode(_ context.Context, code string) (*PaymentTransaction, error) {
	s.mu.Lock()
	txn, ok := s.byCode[code]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTransactionNotFound
	}
	cp := *txn
	hook := s.getHook
	s.getHook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.byCode {
		if txn.ID == id {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *fakeStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*PaymentTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txns []*PaymentTransaction
	for _, txn := range s.byCode {
		if txn.UserID == userID {
			cp := *txn
			txns = append(txns, &cp)
		}
	}
	return txns, int64(len(txns)), nil
}

func (s *fakeStore) Update(_ context.Context, txn *PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byCode[txn.Code]
	if !ok {
		return ErrTransactionNotFound
	}
	if existing.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	cp := *txn
	s.byCode[txn.Code] = &cp
	return nil
}

func (s *fakeStore) TryClaim(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[code] {
		return false, nil
	}
	s.claims[code] = true
	return true, nil
}

func (s *fakeStore) ReleaseClaim(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, code)
	return nil
}

func (s *fakeStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txns []*PaymentTransaction
	for _, txn := range s.byCode {
		if txn.Status == StatusPending && txn.CreatedAt.Before(cutoff) {
			cp := *txn
			txns = append(txns, &cp)
		}
	}
	return txns, nil
}

// fakeLedger applies entries against in-memory balances and enforces
// the non-negative invariant like the real store
type fakeLedger struct {
	mu       sync.Mutex
	accounts map[string]*walletdomain.WalletAccount // by account ID
	byUser   map[string]string
	entries  []*walletdomain.LedgerEntry
	applyErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: make(map[string]*walletdomain.WalletAccount),
		byUser:   make(map[string]string),
	}
}

func (l *fakeLedger) addAccount(userID string, balance int64) *walletdomain.WalletAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	account := walletdomain.NewAccount(ulid.Make().String(), userID)
	account.Balance = balance
	l.accounts[account.ID] = account
	l.byUser[userID] = account.ID
	return account
}

func (l *fakeLedger) Apply(_ context.Context, req wallet.ApplyRequest) (*walletdomain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applyErr != nil {
		return nil, l.applyErr
	}
	account, ok := l.accounts[req.AccountID]
	if !ok {
		return nil, walletdomain.ErrAccountNotFound
	}

	entry := &walletdomain.LedgerEntry{
		ID:            ulid.Make().String(),
		AccountID:     req.AccountID,
		Type:          req.Type,
		Amount:        req.Amount,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		BalanceBefore: account.Balance,
		CreatedAt:     time.Now().UTC(),
	}
	entry.BalanceAfter = entry.BalanceBefore + entry.Delta()
	if entry.BalanceAfter < 0 {
		return nil, walletdomain.ErrInsufficientFunds
	}

	account.Balance = entry.BalanceAfter
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *fakeLedger) GetAccountByUser(_ context.Context, userID string) (*walletdomain.WalletAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byUser[userID]
	if !ok {
		return nil, walletdomain.ErrAccountNotFound
	}
	cp := *l.accounts[id]
	return &cp, nil
}

func (l *fakeLedger) balance(accountID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[accountID].Balance
}

func (l *fakeLedger) entryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *fakeLedger) lastEntry() *walletdomain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	cp := *l.entries[len(l.entries)-1]
	return &cp
}

// fakeAdapter returns canned settlement events
type fakeAdapter struct {
	name        string
	instruction *providers.PaymentInstruction
	createErr   error
	event       *providers.SettlementEvent
	parseErr    error
	lastAck     providers.AckOutcome
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CreatePayment(_ context.Context, _ providers.CreatePaymentRequest) (*providers.PaymentInstruction, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	if a.instruction != nil {
		return a.instruction, nil
	}
	return &providers.PaymentInstruction{Provider: a.name, RedirectURL: "https://pay.example.com/x"}, nil
}

func (a *fakeAdapter) ParseCallback(_ *http.Request) (*providers.SettlementEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	cp := *a.event
	return &cp, nil
}

func (a *fakeAdapter) WriteAck(_ http.ResponseWriter, outcome providers.AckOutcome) {
	a.lastAck = outcome
}
