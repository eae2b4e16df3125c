package state

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"saleescrow/native/agreement"
	"saleescrow/native/bank"
	"saleescrow/storage"
)

func testAddr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr := NewManager(storage.NewMemDB())
	t.Cleanup(mgr.Close)
	return mgr
}

func TestUpdateCommitsAtomically(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	alice := testAddr(1)

	err := mgr.Update(ctx, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.BalancePut(bank.NativeAsset, alice, big.NewInt(42)))
		bal, err := tx.BalanceGet(bank.NativeAsset, alice)
		require.NoError(t, err)
		require.Equal(t, int64(42), bal.Int64(), "tx must observe its own writes")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, mgr.View(ctx, func(tx *Tx) error {
		bal, err := tx.BalanceGet(bank.NativeAsset, alice)
		require.NoError(t, err)
		require.Equal(t, int64(42), bal.Int64())
		return nil
	}))
}

func TestUpdateDiscardsOnError(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	alice := testAddr(1)
	boom := errors.New("boom")

	err := mgr.Update(ctx, func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.BalancePut(bank.NativeAsset, alice, big.NewInt(7)))
		require.NoError(t, tx.AgreementSetCount(3))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, mgr.View(ctx, func(tx *Tx) error {
		bal, err := tx.BalanceGet(bank.NativeAsset, alice)
		require.NoError(t, err)
		require.Zero(t, bal.Sign())
		count, err := tx.AgreementCount()
		require.NoError(t, err)
		require.Zero(t, count)
		return nil
	}))
}

func TestNestedUpdateFailsFast(t *testing.T) {
	mgr := newTestManager(t)
	var nestedUpdate, nestedView error
	err := mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
		nestedUpdate = mgr.Update(ctx, func(context.Context, *Tx) error { return nil })
		nestedView = mgr.View(ctx, func(*Tx) error { return nil })
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, nestedUpdate, ErrNestedUpdate)
	require.ErrorIs(t, nestedView, ErrNestedUpdate)
}

func TestViewIsReadOnly(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.View(context.Background(), func(tx *Tx) error {
		return tx.BalancePut(bank.NativeAsset, testAddr(1), big.NewInt(1))
	})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	mgr := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := mgr.Update(ctx, func(context.Context, *Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestAgreementRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	record := &agreement.Agreement{
		ID:           5,
		Seller:       testAddr(1),
		Buyer:        testAddr(2),
		Asset:        testAddr(9),
		Amount:       big.NewInt(1_000),
		Deposited:    big.NewInt(1_000),
		Status:       agreement.StatusCompleted,
		BuyerPayout:  big.NewInt(400),
		SellerPayout: big.NewInt(600),
		DisputedBy:   testAddr(2),
		CreatedAt:    1_700_000_000,
		UpdatedAt:    1_700_000_100,
	}
	require.NoError(t, mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
		return tx.AgreementPut(record)
	}))
	require.NoError(t, mgr.View(context.Background(), func(tx *Tx) error {
		got, ok, err := tx.AgreementGet(5)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, record, got)
		_, ok, err = tx.AgreementGet(6)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestAgreementCountNeverDecreases(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
		require.NoError(t, tx.AgreementSetCount(2))
		return tx.AgreementSetCount(1)
	})
	require.Error(t, err)
}

func TestTokenListStaysSorted(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
		for _, b := range []byte{0x30, 0x10, 0x20, 0x10} {
			if err := tx.TokenPut(&bank.Token{Address: testAddr(b), Symbol: "T"}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, mgr.View(context.Background(), func(tx *Tx) error {
		list, err := tx.TokenList()
		require.NoError(t, err)
		require.Equal(t, [][20]byte{testAddr(0x10), testAddr(0x20), testAddr(0x30)}, list)
		return nil
	}))
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{storage.BackendLevelDB, storage.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(dir, backend)
			db, err := storage.Open(backend, path)
			require.NoError(t, err)
			mgr := NewManager(db)
			require.NoError(t, mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
				return tx.ParamsPut(&agreement.Params{Owner: testAddr(1), Arbitrator: testAddr(2)})
			}))
			mgr.Close()

			db, err = storage.Open(backend, path)
			require.NoError(t, err)
			mgr = NewManager(db)
			defer mgr.Close()
			require.NoError(t, mgr.View(context.Background(), func(tx *Tx) error {
				params, ok, err := tx.ParamsGet()
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, testAddr(2), params.Arbitrator)
				return nil
			}))
		})
	}
}

func TestAgreementBackendMapsNestedUpdate(t *testing.T) {
	mgr := newTestManager(t)
	backend := mgr.AgreementBackend()
	var inner error
	require.NoError(t, mgr.Update(context.Background(), func(ctx context.Context, tx *Tx) error {
		inner = backend.View(ctx, func(agreement.State) error { return nil })
		return nil
	}))
	require.ErrorIs(t, inner, agreement.ErrReentrantCall)
	require.ErrorIs(t, inner, ErrNestedUpdate)
}

func TestClosedManagerRejectsWork(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	mgr.Close()
	require.ErrorIs(t, mgr.Update(context.Background(), func(context.Context, *Tx) error { return nil }), ErrClosed)
	require.ErrorIs(t, mgr.View(context.Background(), func(*Tx) error { return nil }), ErrClosed)
}
