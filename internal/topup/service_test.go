package topup

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cupcycle/internal/providers"
)

func testService(t *testing.T, adapters ...providers.Adapter) (*Service, *fakeStore, *fakeLedger) {
	t.Helper()
	store := newFakeStore()
	ledger := newFakeLedger()
	service := NewService(
		store,
		ledger,
		providers.NewRegistry(adapters...),
		providers.Limits{MinAmount: 10000, MaxAmount: 5000000},
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return service, store, ledger
}

func TestService_CreateTopUp(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending transaction with instruction", func(t *testing.T) {
		adapter := &fakeAdapter{name: "vnpay"}
		service, store, ledger := testService(t, adapter)
		account := ledger.addAccount("user1", 0)

		txn, instruction, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "vnpay",
			Amount:   50000,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, txn.Status)
		assert.Equal(t, account.ID, txn.AccountID)
		assert.Equal(t, "https://pay.example.com/x", instruction.RedirectURL)

		stored, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)

		// nothing credited yet
		assert.Equal(t, int64(0), ledger.balance(account.ID))
	})

	t.Run("rejects amount below minimum", func(t *testing.T) {
		service, _, ledger := testService(t, &fakeAdapter{name: "vnpay"})
		ledger.addAccount("user1", 0)

		_, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "vnpay",
			Amount:   9999,
		})
		assert.ErrorIs(t, err, providers.ErrInvalidAmount)
	})

	t.Run("unknown provider", func(t *testing.T) {
		service, _, ledger := testService(t, &fakeAdapter{name: "vnpay"})
		ledger.addAccount("user1", 0)

		_, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "paypal",
			Amount:   50000,
		})
		assert.Error(t, err)
	})

	t.Run("provider create failure marks transaction failed", func(t *testing.T) {
		adapter := &fakeAdapter{name: "momo", createErr: assert.AnError}
		service, store, ledger := testService(t, adapter)
		ledger.addAccount("user1", 0)

		_, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "momo",
			Amount:   50000,
		})
		require.Error(t, err)

		txns, _, err := store.ListByUser(ctx, "user1", 10, 0)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, StatusFailed, txns[0].Status)
	})
}

func TestService_HandleCallback(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *fakeStore, *fakeLedger, *fakeAdapter, *PaymentTransaction) {
		adapter := &fakeAdapter{name: "vnpay"}
		service, store, ledger := testService(t, adapter)
		ledger.addAccount("user1", 0)

		txn, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "vnpay",
			Amount:   50000,
		})
		require.NoError(t, err)
		return service, store, ledger, adapter, txn
	}

	t.Run("successful settlement credits once", func(t *testing.T) {
		service, store, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        50000,
			ProviderTxnID: "14350561",
		}

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		require.NoError(t, err)
		assert.Equal(t, providers.AckSuccess, outcome)

		settled, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusCredited, settled.Status)
		assert.Equal(t, "14350561", settled.ProviderTxnID)
		assert.NotEmpty(t, settled.LedgerEntryID)
		require.NotNil(t, settled.SettledAt)

		assert.Equal(t, int64(50000), ledger.balance(txn.AccountID))
		assert.Equal(t, 1, ledger.entryCount())

		// the entry joins back to the settlement by transaction code
		entry := ledger.lastEntry()
		require.NotNil(t, entry)
		assert.Equal(t, txn.Code, entry.ReferenceID)
		assert.Equal(t, entry.ID, settled.LedgerEntryID)
	})

	t.Run("duplicate deliveries are success no-ops", func(t *testing.T) {
		service, _, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        50000,
		}

		for i := 0; i < 3; i++ {
			r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
			_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
			require.NoError(t, err)
			if i == 0 {
				assert.Equal(t, providers.AckSuccess, outcome)
			} else {
				assert.Equal(t, providers.AckAlreadyProcessed, outcome)
			}
		}

		// exactly one credit despite three deliveries
		assert.Equal(t, int64(50000), ledger.balance(txn.AccountID))
		assert.Equal(t, 1, ledger.entryCount())
	})

	t.Run("concurrent deliveries credit exactly once", func(t *testing.T) {
		service, _, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        50000,
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
				service.HandleCallback(ctx, "vnpay", r)
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(50000), ledger.balance(txn.AccountID))
		assert.Equal(t, 1, ledger.entryCount())
	})

	t.Run("amount mismatch fails without crediting", func(t *testing.T) {
		service, store, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        49000,
		}

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.Equal(t, providers.AckFailure, outcome)

		failed, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Contains(t, failed.FailureReason, "expected 50000")

		assert.Equal(t, int64(0), ledger.balance(txn.AccountID))
		assert.Equal(t, 0, ledger.entryCount())
	})

	t.Run("failed payment marks transaction failed", func(t *testing.T) {
		service, store, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     false,
			Amount:        50000,
			FailureReason: "vnp_ResponseCode=24",
		}

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		require.NoError(t, err)
		assert.Equal(t, providers.AckSuccess, outcome)

		failed, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Equal(t, int64(0), ledger.balance(txn.AccountID))
	})

	t.Run("signature mismatch leaves no trace", func(t *testing.T) {
		service, store, ledger, adapter, txn := setup(t)
		adapter.parseErr = providers.ErrSignatureMismatch

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		assert.ErrorIs(t, err, providers.ErrSignatureMismatch)
		assert.Equal(t, providers.AckInvalidSignature, outcome)

		untouched, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, untouched.Status)
		assert.Equal(t, 0, ledger.entryCount())
	})

	t.Run("unknown reference code", func(t *testing.T) {
		service, _, _, adapter, _ := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: "NOSUCHCODE",
			Succeeded:     true,
			Amount:        50000,
		}

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.Equal(t, providers.AckOrderNotFound, outcome)
	})

	t.Run("success delivery racing a failure keeps the failure", func(t *testing.T) {
		success := &fakeAdapter{name: "vnpay"}
		failure := &fakeAdapter{name: "momo"}
		service, store, ledger := testService(t, success, failure)
		ledger.addAccount("user1", 0)

		txn, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "vnpay",
			Amount:   50000,
		})
		require.NoError(t, err)

		success.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        50000,
		}
		failure.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     false,
			Amount:        50000,
			FailureReason: "resultCode=1006",
		}

		// the failure lands between the success delivery's first load
		// and its claim
		store.getHook = func() {
			r := httptest.NewRequest("POST", "/callbacks/momo", nil)
			_, outcome, err := service.HandleCallback(ctx, "momo", r)
			require.NoError(t, err)
			require.Equal(t, providers.AckSuccess, outcome)
		}

		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
		assert.Equal(t, providers.AckAlreadyProcessed, outcome)

		// failed stays failed, nothing credited
		final, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, final.Status)
		assert.Equal(t, int64(0), ledger.balance(txn.AccountID))
		assert.Equal(t, 0, ledger.entryCount())
	})

	t.Run("credit failure releases the claim for retry", func(t *testing.T) {
		service, store, ledger, adapter, txn := setup(t)
		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        50000,
		}

		ledger.applyErr = assert.AnError
		r := httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err := service.HandleCallback(ctx, "vnpay", r)
		require.Error(t, err)
		assert.Equal(t, providers.AckFailure, outcome)

		// redelivery succeeds once the ledger recovers
		ledger.applyErr = nil
		r = httptest.NewRequest("GET", "/callbacks/vnpay", nil)
		_, outcome, err = service.HandleCallback(ctx, "vnpay", r)
		require.NoError(t, err)
		assert.Equal(t, providers.AckSuccess, outcome)

		settled, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusCredited, settled.Status)
		assert.Equal(t, int64(50000), ledger.balance(txn.AccountID))
	})
}

func TestService_ExpirePending(t *testing.T) {
	ctx := context.Background()

	t.Run("expires stale pending transactions", func(t *testing.T) {
		adapter := &fakeAdapter{name: "banktransfer"}
		service, store, ledger := testService(t, adapter)
		ledger.addAccount("user1", 0)

		txn, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "banktransfer",
			Amount:   100000,
		})
		require.NoError(t, err)

		// backdate past the expiry window
		stale, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, store.Update(ctx, stale))

		count, err := service.ExpirePending(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		expired, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, expired.Status)
		assert.Contains(t, expired.FailureReason, "expired")
	})

	t.Run("late callback after expiry is a no-op", func(t *testing.T) {
		adapter := &fakeAdapter{name: "banktransfer"}
		service, store, ledger := testService(t, adapter)
		ledger.addAccount("user1", 0)

		txn, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "banktransfer",
			Amount:   100000,
		})
		require.NoError(t, err)

		stale, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, store.Update(ctx, stale))

		_, err = service.ExpirePending(ctx, 24*time.Hour)
		require.NoError(t, err)

		adapter.event = &providers.SettlementEvent{
			ReferenceCode: txn.Code,
			Succeeded:     true,
			Amount:        100000,
		}
		r := httptest.NewRequest("POST", "/callbacks/banktransfer", nil)
		_, outcome, _ := service.HandleCallback(ctx, "banktransfer", r)
		assert.Equal(t, providers.AckAlreadyProcessed, outcome)

		// the expired transaction stays failed and uncredited
		final, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, final.Status)
		assert.Equal(t, int64(0), ledger.balance(txn.AccountID))
	})

	t.Run("fresh pending transactions survive", func(t *testing.T) {
		adapter := &fakeAdapter{name: "vnpay"}
		service, store, ledger := testService(t, adapter)
		ledger.addAccount("user1", 0)

		txn, _, err := service.CreateTopUp(ctx, CreateTopUpRequest{
			UserID:   "user1",
			Provider: "vnpay",
			Amount:   50000,
		})
		require.NoError(t, err)

		count, err := service.ExpirePending(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		fresh, err := store.GetByCode(ctx, txn.Code)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, fresh.Status)
	})
}

func TestTransaction_Transitions(t *testing.T) {
	newPending := func(t *testing.T) *PaymentTransaction {
		txn, err := NewTransaction("id1", "code1", "user1", "acc1", "vnpay", 50000)
		require.NoError(t, err)
		return txn
	}

	t.Run("pending to credited", func(t *testing.T) {
		txn := newPending(t)
		require.NoError(t, txn.MarkCredited("ptx1", "entry1"))
		assert.Equal(t, StatusCredited, txn.Status)
		assert.NotNil(t, txn.SettledAt)
	})

	t.Run("pending to failed", func(t *testing.T) {
		txn := newPending(t)
		require.NoError(t, txn.MarkFailed("declined"))
		assert.Equal(t, StatusFailed, txn.Status)
	})

	t.Run("credited is terminal", func(t *testing.T) {
		txn := newPending(t)
		require.NoError(t, txn.MarkCredited("ptx1", "entry1"))
		assert.ErrorIs(t, txn.MarkCredited("ptx2", "entry2"), ErrAlreadyFinalized)
		assert.ErrorIs(t, txn.MarkFailed("late failure"), ErrAlreadyFinalized)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		txn := newPending(t)
		require.NoError(t, txn.MarkFailed("declined"))
		assert.ErrorIs(t, txn.MarkCredited("ptx1", "entry1"), ErrAlreadyFinalized)
	})
}
