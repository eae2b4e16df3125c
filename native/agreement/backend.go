package agreement

import (
	"context"
	"math/big"
	"time"

	"saleescrow/native/bank"
)

// State is the transactional view the registry operates on. It extends the
// bank store so fund movements and agreement writes share one unit of work.
type State interface {
	bank.Store
	AgreementGet(id uint64) (*Agreement, bool, error)
	AgreementPut(a *Agreement) error
	AgreementCount() (uint64, error)
	AgreementSetCount(n uint64) error
	ParamsGet() (*Params, bool, error)
	ParamsPut(p *Params) error
}

// Backend commits everything fn writes atomically, or nothing when fn fails.
type Backend interface {
	Update(ctx context.Context, fn func(ctx context.Context, st State) error) error
	View(ctx context.Context, fn func(st State) error) error
}

// Metrics receives operation outcomes and custody levels after each call.
type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	SetCustody(asset [20]byte, amount *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) SetCustody([20]byte, *big.Int)                  {}
