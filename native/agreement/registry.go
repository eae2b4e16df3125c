package agreement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"saleescrow/core/events"
	"saleescrow/native/bank"
)

var (
	errNilBackend = errors.New("agreement registry: backend not configured")
	errNilLedger  = errors.New("agreement registry: ledger not configured")
)

// VaultAddress is the synthetic account that holds every deposit in custody.
// No private key exists for it; only the registry moves its funds.
var VaultAddress = deriveVault()

func deriveVault() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("saleescrow/agreement/vault"))[12:])
	return out
}

type inFlightKey struct{}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Registry owns the agreement records, the arbiter roles and the vault. Every
// mutating call is an atomic unit of work executed through the Backend.
type Registry struct {
	// publishMu spans commit and emission so events leave in commit order.
	publishMu sync.Mutex

	backend Backend
	ledger  *bank.Ledger
	emitter events.Emitter
	metrics Metrics
	logger  *slog.Logger
	nowFn   func() int64
	vault   [20]byte
}

// NewRegistry wires a registry to its storage backend and bank ledger. The
// returned registry must be bootstrapped before use.
func NewRegistry(backend Backend, ledger *bank.Ledger) *Registry {
	if backend == nil {
		panic(errNilBackend)
	}
	if ledger == nil {
		panic(errNilLedger)
	}
	return &Registry{
		backend: backend,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		metrics: noopMetrics{},
		logger:  discardLogger(),
		nowFn:   func() int64 { return time.Now().Unix() },
		vault:   VaultAddress,
	}
}

// SetEmitter configures the event sink. Passing nil resets to a no-op emitter.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetMetrics configures the metrics sink.
func (r *Registry) SetMetrics(metrics Metrics) {
	if metrics == nil {
		r.metrics = noopMetrics{}
		return
	}
	r.metrics = metrics
}

// SetLogger configures the structured logger for committed transitions.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = discardLogger()
	}
	r.logger = logger
}

// SetNowFunc overrides the clock used for audit timestamps.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) now() int64 { return r.nowFn() }

// Vault returns the custody account.
func (r *Registry) Vault() [20]byte { return r.vault }

// Ledger returns the bank ledger the registry moves funds with.
func (r *Registry) Ledger() *bank.Ledger { return r.ledger }

// Bootstrap stores params on first start. On later starts the stored params
// win; a configured owner that differs from the stored one is rejected.
func (r *Registry) Bootstrap(ctx context.Context, params Params) (Params, error) {
	var out Params
	err := r.backend.Update(ctx, func(ctx context.Context, st State) error {
		stored, ok, err := st.ParamsGet()
		if err != nil {
			return err
		}
		if ok {
			if params.Owner != ([20]byte{}) && params.Owner != stored.Owner {
				return ErrParamsMismatch
			}
			out = *stored
			return nil
		}
		if params.Owner == ([20]byte{}) || params.Arbitrator == ([20]byte{}) {
			return fmt.Errorf("%w: owner and arbitrator required", ErrInvalidParty)
		}
		out = params
		return st.ParamsPut(&params)
	})
	if err != nil {
		return Params{}, err
	}
	return out, nil
}

// CreateAgreement records a new sale with the caller as seller.
func (r *Registry) CreateAgreement(ctx context.Context, caller, buyer [20]byte, amount *big.Int, asset [20]byte) (uint64, error) {
	var id uint64
	err := r.mutate(ctx, "create", func(ctx context.Context, st State, tx *txEvents) error {
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
		}
		if caller == ([20]byte{}) || buyer == ([20]byte{}) {
			return fmt.Errorf("%w: seller and buyer required", ErrInvalidParty)
		}
		if buyer == caller {
			return fmt.Errorf("%w: buyer must differ from seller", ErrInvalidParty)
		}
		if buyer == r.vault || caller == r.vault {
			return fmt.Errorf("%w: vault cannot be a party", ErrInvalidParty)
		}
		if !bank.IsNative(asset) {
			if _, ok, err := st.TokenGet(asset); err != nil {
				return err
			} else if !ok {
				return ErrUnknownAsset
			}
		}
		next, err := st.AgreementCount()
		if err != nil {
			return err
		}
		now := r.now()
		record := &Agreement{
			ID:        next,
			Seller:    caller,
			Buyer:     buyer,
			Asset:     asset,
			Amount:    new(big.Int).Set(amount),
			Deposited: big.NewInt(0),
			Status:    StatusCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.AgreementPut(record); err != nil {
			return err
		}
		if err := st.AgreementSetCount(next + 1); err != nil {
			return err
		}
		id = next
		tx.add(events.AgreementCreated{ID: next, Seller: caller, Buyer: buyer, Amount: record.Amount, Asset: asset})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DepositPayment moves the buyer's payment into custody. For native
// agreements value must equal the agreed amount; for token agreements value
// must be zero and the vault pulls the amount from the buyer's allowance.
func (r *Registry) DepositPayment(ctx context.Context, caller [20]byte, id uint64, value *big.Int) error {
	return r.mutate(ctx, "deposit", func(ctx context.Context, st State, tx *txEvents) error {
		a, err := r.load(st, id)
		if err != nil {
			return err
		}
		if caller != a.Buyer {
			return fmt.Errorf("%w: only the buyer can deposit", ErrUnauthorized)
		}
		if a.Status != StatusCreated {
			return fmt.Errorf("%w: agreement %d is %s", ErrInvalidState, id, a.Status)
		}
		if err := r.transfererFor(a.Asset).collect(ctx, st, caller, a.Amount, value); err != nil {
			return err
		}
		a.Deposited = new(big.Int).Set(a.Amount)
		a.Status = StatusFunded
		a.UpdatedAt = r.now()
		if err := st.AgreementPut(a); err != nil {
			return err
		}
		tx.custody(a.Asset)
		tx.add(events.PaymentDeposited{ID: id, Amount: a.Deposited})
		return nil
	})
}

// RaiseDispute escalates a funded agreement to the arbitrator.
func (r *Registry) RaiseDispute(ctx context.Context, caller [20]byte, id uint64) error {
	return r.mutate(ctx, "dispute", func(ctx context.Context, st State, tx *txEvents) error {
		a, err := r.load(st, id)
		if err != nil {
			return err
		}
		if !a.IsParty(caller) {
			return fmt.Errorf("%w: only the buyer or seller can dispute", ErrUnauthorized)
		}
		if a.Status != StatusFunded {
			return fmt.Errorf("%w: agreement %d is %s", ErrInvalidState, id, a.Status)
		}
		a.Status = StatusDisputed
		a.DisputedBy = caller
		a.UpdatedAt = r.now()
		if err := st.AgreementPut(a); err != nil {
			return err
		}
		tx.add(events.DisputeRaised{ID: id, Caller: caller})
		return nil
	})
}

// ResolveDispute pays out a disputed deposit according to the arbitrator's
// split and completes the agreement.
func (r *Registry) ResolveDispute(ctx context.Context, caller [20]byte, id uint64, buyerShare, sellerShare *big.Int) error {
	return r.mutate(ctx, "resolve", func(ctx context.Context, st State, tx *txEvents) error {
		a, err := r.load(st, id)
		if err != nil {
			return err
		}
		params, err := r.params(st)
		if err != nil {
			return err
		}
		if caller != params.Arbitrator {
			return fmt.Errorf("%w: only the arbitrator can resolve", ErrUnauthorized)
		}
		if a.Status != StatusDisputed {
			return fmt.Errorf("%w: agreement %d is %s", ErrInvalidState, id, a.Status)
		}
		split, err := ComputeSplit(a.Deposited, buyerShare, sellerShare)
		if err != nil {
			return err
		}
		if err := r.settle(ctx, st, a, split); err != nil {
			return err
		}
		tx.custody(a.Asset)
		tx.add(events.DisputeResolved{ID: id, BuyerShare: split.Buyer, SellerShare: split.Seller})
		return nil
	})
}

// ReleasePayment lets the buyer confirm delivery and pay the full deposit to
// the seller without arbitration.
func (r *Registry) ReleasePayment(ctx context.Context, caller [20]byte, id uint64) error {
	return r.mutate(ctx, "release", func(ctx context.Context, st State, tx *txEvents) error {
		a, err := r.load(st, id)
		if err != nil {
			return err
		}
		if caller != a.Buyer {
			return fmt.Errorf("%w: only the buyer can release", ErrUnauthorized)
		}
		if a.Status != StatusFunded {
			return fmt.Errorf("%w: agreement %d is %s", ErrInvalidState, id, a.Status)
		}
		split := releaseSplit(a.Deposited)
		if err := r.settle(ctx, st, a, split); err != nil {
			return err
		}
		tx.custody(a.Asset)
		tx.add(events.PaymentReleased{ID: id, Seller: a.Seller, Amount: split.Seller})
		return nil
	})
}

// ChangeArbitrator replaces the arbitrator for every agreement, including
// those already in dispute.
func (r *Registry) ChangeArbitrator(ctx context.Context, caller, next [20]byte) error {
	return r.mutate(ctx, "change_arbitrator", func(ctx context.Context, st State, tx *txEvents) error {
		params, err := r.params(st)
		if err != nil {
			return err
		}
		if caller != params.Owner {
			return fmt.Errorf("%w: only the owner can change the arbitrator", ErrUnauthorized)
		}
		if next == ([20]byte{}) {
			return fmt.Errorf("%w: arbitrator must not be zero", ErrInvalidParty)
		}
		previous := params.Arbitrator
		params.Arbitrator = next
		if err := st.ParamsPut(params); err != nil {
			return err
		}
		tx.add(events.ArbitratorChanged{Old: previous, New: next})
		return nil
	})
}

// Arbitrator returns the current arbitrator.
func (r *Registry) Arbitrator(ctx context.Context) ([20]byte, error) {
	var out [20]byte
	err := r.view(ctx, func(st State) error {
		params, err := r.params(st)
		if err != nil {
			return err
		}
		out = params.Arbitrator
		return nil
	})
	return out, err
}

// Owner returns the registry owner.
func (r *Registry) Owner(ctx context.Context) ([20]byte, error) {
	var out [20]byte
	err := r.view(ctx, func(st State) error {
		params, err := r.params(st)
		if err != nil {
			return err
		}
		out = params.Owner
		return nil
	})
	return out, err
}

// Agreement returns a copy of the stored agreement.
func (r *Registry) Agreement(ctx context.Context, id uint64) (*Agreement, error) {
	var out *Agreement
	err := r.view(ctx, func(st State) error {
		a, err := r.load(st, id)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// AgreementCount returns the number of agreements ever created, which is also
// the next identifier to be assigned.
func (r *Registry) AgreementCount(ctx context.Context) (uint64, error) {
	var out uint64
	err := r.view(ctx, func(st State) error {
		n, err := st.AgreementCount()
		out = n
		return err
	})
	return out, err
}

func (r *Registry) load(st State, id uint64) (*Agreement, error) {
	a, ok, err := st.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: agreement %d", ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (r *Registry) params(st State) (*Params, error) {
	params, ok, err := st.ParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok || params == nil {
		return nil, ErrNotInitialized
	}
	out := *params
	return &out, nil
}

// txEvents collects what a unit of work produced so it can be published only
// after the commit succeeds, before the next unit of work starts.
type txEvents struct {
	events []events.Event
	assets map[[20]byte]struct{}
}

func (t *txEvents) add(evt events.Event) { t.events = append(t.events, evt) }

func (t *txEvents) custody(asset [20]byte) {
	if t.assets == nil {
		t.assets = make(map[[20]byte]struct{})
	}
	t.assets[asset] = struct{}{}
}

// enter marks ctx as running inside this registry. A context already marked
// belongs to a call further up the stack, e.g. a receive hook firing during a
// payout.
func (r *Registry) enter(ctx context.Context) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if owner, ok := ctx.Value(inFlightKey{}).(*Registry); ok && owner == r {
		return nil, ErrReentrantCall
	}
	return context.WithValue(ctx, inFlightKey{}, r), nil
}

func (r *Registry) view(ctx context.Context, fn func(st State) error) error {
	ctx, err := r.enter(ctx)
	if err != nil {
		return err
	}
	return r.backend.View(ctx, fn)
}

func (r *Registry) mutate(ctx context.Context, operation string, fn func(ctx context.Context, st State, tx *txEvents) error) error {
	started := time.Now()
	inner, err := r.enter(ctx)
	if err != nil {
		r.metrics.ObserveOperation(operation, Code(err), time.Since(started))
		return err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	var pending *txEvents
	custody := make(map[[20]byte]*big.Int)
	err = r.backend.Update(inner, func(ctx context.Context, st State) error {
		pending = &txEvents{}
		if err := fn(ctx, st, pending); err != nil {
			return err
		}
		for asset := range pending.assets {
			held, err := st.BalanceGet(asset, r.vault)
			if err != nil {
				return err
			}
			custody[asset] = cloneAmount(held)
		}
		return nil
	})
	r.metrics.ObserveOperation(operation, Code(err), time.Since(started))
	if err != nil {
		r.logger.DebugContext(ctx, "agreement operation rejected",
			slog.String("operation", operation),
			slog.String("code", Code(err)),
			slog.Any("error", err))
		return err
	}

	for asset, held := range custody {
		r.metrics.SetCustody(asset, held)
	}
	for _, evt := range pending.events {
		r.emitter.Emit(evt)
	}
	r.logger.DebugContext(ctx, "agreement operation committed",
		slog.String("operation", operation),
		slog.Int("events", len(pending.events)))
	return nil
}
