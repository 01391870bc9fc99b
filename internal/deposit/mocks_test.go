package deposit

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/wallet"
	walletdomain "cupcycle/internal/wallet/domain"
)

// fakeStore is an in-memory Store
type fakeStore struct {
	mu    sync.Mutex
	holds map[string]*DepositHold
}

func newFakeStore() *fakeStore {
	return &fakeStore{holds: make(map[string]*DepositHold)}
}

func (s *fakeStore) Create(_ context.Context, hold *DepositHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *hold
	s.holds[hold.ID] = &cp
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*DepositHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *hold
	return &cp, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID string, status *HoldStatus, limit, offset int) ([]*DepositHold, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var holds []*DepositHold
	for _, hold := range s.holds {
		if hold.UserID != userID {
			continue
		}
		if status != nil && hold.Status != *status {
			continue
		}
		cp := *hold
		holds = append(holds, &cp)
	}
	return holds, int64(len(holds)), nil
}

func (s *fakeStore) Update(_ context.Context, hold *DepositHold, expected HoldStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.holds[hold.ID]
	if !ok {
		return ErrHoldNotFound
	}
	if existing.Status != expected {
		return ErrStaleHold
	}
	cp := *hold
	s.holds[hold.ID] = &cp
	return nil
}

// fakeLedger mirrors the real store's locking semantics: Apply
// serializes on a mutex and rejects debits below zero
type fakeLedger struct {
	mu       sync.Mutex
	accounts map[string]*walletdomain.WalletAccount
	byUser   map[string]string
	entries  map[string]*walletdomain.LedgerEntry
	order    []*walletdomain.LedgerEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: make(map[string]*walletdomain.WalletAccount),
		byUser:   make(map[string]string),
		entries:  make(map[string]*walletdomain.LedgerEntry),
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
	l.entries[entry.ID] = entry
	l.order = append(l.order, entry)
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

func (l *fakeLedger) GetEntry(_ context.Context, id string) (*walletdomain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return nil, ErrHoldNotFound
	}
	cp := *entry
	return &cp, nil
}

func (l *fakeLedger) balance(accountID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[accountID].Balance
}

func (l *fakeLedger) history(accountID string) []*walletdomain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []*walletdomain.LedgerEntry
	for _, e := range l.order {
		if e.AccountID == accountID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries
}
