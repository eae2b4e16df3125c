package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"saleescrow/core/events"
	"saleescrow/crypto"
	"saleescrow/native/agreement"
	"saleescrow/native/bank"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeInvalidState   = -32024
	codeInternal       = -32025
	codeInvalidAmount  = -32026
	codeTransferFailed = -32027
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// registryError maps a registry or ledger failure onto the JSON-RPC error
// taxonomy. error.data always carries the stable agreement.Code label.
func registryError(err error) (int, int) {
	switch agreement.Code(err) {
	case "not_found":
		return http.StatusNotFound, codeNotFound
	case "unauthorized":
		return http.StatusForbidden, codeForbidden
	case "invalid_state":
		return http.StatusConflict, codeInvalidState
	case "invalid_amount", "amount_mismatch", "invalid_party", "unknown_asset":
		return http.StatusBadRequest, codeInvalidAmount
	case "transfer_failed":
		return http.StatusUnprocessableEntity, codeTransferFailed
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	status, code := registryError(err)
	writeError(w, status, id, code, err.Error(), agreement.Code(err))
}

func formatAccount(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FromArray(crypto.AccountPrefix, addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AgreementResult is the JSON view of one agreement.
type AgreementResult struct {
	ID           uint64 `json:"id"`
	Seller       string `json:"seller"`
	Buyer        string `json:"buyer"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	Deposited    string `json:"deposited"`
	Status       string `json:"status"`
	BuyerPayout  string `json:"buyerPayout"`
	SellerPayout string `json:"sellerPayout"`
	DisputedBy   string `json:"disputedBy,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

func newAgreementResult(a *agreement.Agreement) *AgreementResult {
	if a == nil {
		return nil
	}
	return &AgreementResult{
		ID:           a.ID,
		Seller:       formatAccount(a.Seller),
		Buyer:        formatAccount(a.Buyer),
		Asset:        events.AssetLabel(a.Asset),
		Amount:       formatAmount(a.Amount),
		Deposited:    formatAmount(a.Deposited),
		Status:       a.Status.String(),
		BuyerPayout:  formatAmount(a.BuyerPayout),
		SellerPayout: formatAmount(a.SellerPayout),
		DisputedBy:   formatAccount(a.DisputedBy),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type CustodyLine struct {
	Asset    string `json:"asset"`
	Expected string `json:"expected"`
	Held     string `json:"held"`
}

type AuditResult struct {
	Vault    string        `json:"vault"`
	Balanced bool          `json:"balanced"`
	Assets   []CustodyLine `json:"assets"`
}

func newAuditResult(report *agreement.CustodyReport) *AuditResult {
	out := &AuditResult{
		Vault:    formatAccount(report.Vault),
		Balanced: report.Balanced,
		Assets:   make([]CustodyLine, 0, len(report.Assets)),
	}
	for _, line := range report.Assets {
		out.Assets = append(out.Assets, CustodyLine{
			Asset:    events.AssetLabel(line.Asset),
			Expected: formatAmount(line.Expected),
			Held:     formatAmount(line.Held),
		})
	}
	return out
}

type TokenResult struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func newTokenResult(token *bank.Token) *TokenResult {
	return &TokenResult{
		Address:  events.AssetLabel(token.Address),
		Symbol:   token.Symbol,
		Decimals: token.Decimals,
	}
}
