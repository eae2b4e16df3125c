package agreement

import "errors"

var (
	ErrNotFound         = errors.New("agreement: not found")
	ErrInvalidState     = errors.New("agreement: invalid state")
	ErrUnauthorized     = errors.New("agreement: unauthorized")
	ErrInvalidAmount    = errors.New("agreement: invalid amount")
	ErrInvalidParty     = errors.New("agreement: invalid party")
	ErrAmountMismatch   = errors.New("agreement: amount mismatch")
	ErrUnknownAsset     = errors.New("agreement: unknown asset")
	ErrTransferFailed   = errors.New("agreement: transfer failed")
	ErrReentrantCall    = errors.New("agreement: reentrant call")
	ErrCustodyImbalance = errors.New("agreement: custody imbalance")
	ErrNotInitialized   = errors.New("agreement: registry params not initialised")
	ErrParamsMismatch   = errors.New("agreement: configured owner differs from stored owner")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidParty, "invalid_party"},
	{ErrAmountMismatch, "amount_mismatch"},
	{ErrUnknownAsset, "unknown_asset"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrCustodyImbalance, "custody_imbalance"},
	{ErrNotInitialized, "not_initialized"},
	{ErrParamsMismatch, "params_mismatch"},
}

// Code maps an error to a stable label. Nil maps to "ok" and anything outside
// the registry taxonomy maps to "internal".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, entry := range codes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal"
}
