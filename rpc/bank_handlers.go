package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"saleescrow/config"
	"saleescrow/core/events"
	"saleescrow/native/bank"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type bankBalanceParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
}

type tokenApproveParams struct {
	Token   string `json:"token"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type tokenGetParams struct {
	Token string `json:"token"`
}

type eventsListParams struct {
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit,omitempty"`
}

type balanceResult struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type allowanceResult struct {
	Token     string `json:"token"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type eventsListResult struct {
	Records []events.Record `json:"records"`
	Next    uint64          `json:"next"`
}

// writeBankError maps ledger sentinels before falling back to the registry
// taxonomy used by the state backend.
func writeBankError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, bank.ErrUnknownToken):
		writeError(w, http.StatusNotFound, id, codeNotFound, err.Error(), "unknown_asset")
	case errors.Is(err, bank.ErrInvalidAmount), errors.Is(err, bank.ErrBalanceOverflow):
		writeError(w, http.StatusBadRequest, id, codeInvalidAmount, err.Error(), "invalid_amount")
	case errors.Is(err, bank.ErrFrozen):
		writeError(w, http.StatusForbidden, id, codeForbidden, err.Error(), "frozen")
	default:
		writeRegistryError(w, id, err)
	}
}

func parseToken(raw string) ([20]byte, error) {
	asset, err := config.ParseAsset(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("token: %w", err)
	}
	if bank.IsNative(asset) {
		return [20]byte{}, errors.New("token: native asset has no token record")
	}
	return asset, nil
}

func (s *Server) handleBankBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bankBalanceParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	account, err := parseAccount("account", params.Account)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	asset, err := config.ParseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req, fmt.Errorf("asset: %w", err))
		return
	}
	ledger := s.registry.Ledger()
	var balance *big.Int
	err = s.bank.View(r.Context(), func(st bank.Store) error {
		var viewErr error
		balance, viewErr = ledger.Balance(st, asset, account)
		return viewErr
	})
	if err != nil {
		writeBankError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{
		Account: formatAccount(account),
		Asset:   events.AssetLabel(asset),
		Balance: formatAmount(balance),
	})
}

// handleTokenApprove sets the caller's allowance for spender. The spender
// defaults to the agreement vault, which is what token deposits pull from.
func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params tokenApproveParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	spender := s.registry.Vault()
	if strings.TrimSpace(params.Spender) != "" {
		spender, err = parseAccount("spender", params.Spender)
		if err != nil {
			invalidParams(w, req, err)
			return
		}
	}
	amount, err := parseSignedAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	ledger := s.registry.Ledger()
	err = s.bank.Update(r.Context(), func(_ context.Context, st bank.Store) error {
		return ledger.Approve(st, token, caller, spender, amount)
	})
	if err != nil {
		writeBankError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, allowanceResult{
		Token:     events.AssetLabel(token),
		Owner:     formatAccount(caller),
		Spender:   formatAccount(spender),
		Allowance: amount.String(),
	})
}

func (s *Server) handleTokenGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenGetParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	addr, err := parseToken(params.Token)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	ledger := s.registry.Ledger()
	var token *bank.Token
	err = s.bank.View(r.Context(), func(st bank.Store) error {
		var viewErr error
		token, viewErr = ledger.Token(st, addr)
		return viewErr
	})
	if err != nil {
		writeBankError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newTokenResult(token))
}

func (s *Server) handleEventsList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		invalidParams(w, req, errors.New("too many parameters"))
		return
	}
	var params eventsListParams
	if len(req.Params) == 1 {
		if err := decodeParams(req, &params); err != nil {
			invalidParams(w, req, err)
			return
		}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	records := s.events.Since(params.Cursor, limit)
	next := params.Cursor
	if n := len(records); n > 0 {
		next = records[n-1].Sequence
	}
	if records == nil {
		records = []events.Record{}
	}
	writeResult(w, req.ID, eventsListResult{Records: records, Next: next})
}
