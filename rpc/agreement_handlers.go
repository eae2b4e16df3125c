package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"saleescrow/config"
	"saleescrow/crypto"
	"saleescrow/native/agreement"
)

type agreementCreateParams struct {
	Buyer  string `json:"buyer"`
	Amount string `json:"amount"`
	Asset  string `json:"asset,omitempty"`
}

type agreementIDParams struct {
	ID uint64 `json:"id"`
}

type agreementDepositParams struct {
	ID     uint64 `json:"id"`
	Amount string `json:"amount,omitempty"`
}

type agreementResolveParams struct {
	ID          uint64 `json:"id"`
	BuyerShare  string `json:"buyerShare"`
	SellerShare string `json:"sellerShare"`
}

type changeArbitratorParams struct {
	Arbitrator string `json:"arbitrator"`
}

type agreementCreateResult struct {
	ID        uint64           `json:"id"`
	Agreement *AgreementResult `json:"agreement"`
}

type rolesResult struct {
	Owner      string `json:"owner"`
	Arbitrator string `json:"arbitrator"`
}

type countResult struct {
	Count uint64 `json:"count"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("parameter object required")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseAccount(field, raw string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(raw, crypto.AccountPrefix)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Array(), nil
}

// parseSignedAmount parses a base-10 integer. Negative values pass through so
// the registry reports them with its own taxonomy.
func parseSignedAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s required", field)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	return v, nil
}

func invalidParams(w http.ResponseWriter, req *RPCRequest, err error) {
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
}

// writeAgreement responds with the committed state of id.
func (s *Server) writeAgreement(w http.ResponseWriter, r *http.Request, req *RPCRequest, id uint64) {
	a, err := s.registry.Agreement(r.Context(), id)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newAgreementResult(a))
}

func (s *Server) handleAgreementCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params agreementCreateParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	buyer, err := parseAccount("buyer", params.Buyer)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	amount, err := parseSignedAmount("amount", params.Amount)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	asset, err := config.ParseAsset(params.Asset)
	if err != nil {
		invalidParams(w, req, fmt.Errorf("asset: %w", err))
		return
	}
	id, err := s.registry.CreateAgreement(r.Context(), caller, buyer, amount, asset)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	a, err := s.registry.Agreement(r.Context(), id)
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, agreementCreateResult{ID: id, Agreement: newAgreementResult(a)})
}

func (s *Server) handleAgreementDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params agreementDepositParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	// Token deposits attach no native value.
	var attached *big.Int
	if strings.TrimSpace(params.Amount) != "" {
		value, err := parseSignedAmount("amount", params.Amount)
		if err != nil {
			invalidParams(w, req, err)
			return
		}
		attached = value
	}
	if err := s.registry.DepositPayment(r.Context(), caller, params.ID, attached); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	s.writeAgreement(w, r, req, params.ID)
}

func (s *Server) handleAgreementDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params agreementIDParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	if err := s.registry.RaiseDispute(r.Context(), caller, params.ID); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	s.writeAgreement(w, r, req, params.ID)
}

func (s *Server) handleAgreementResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params agreementResolveParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	buyerShare, err := parseSignedAmount("buyerShare", params.BuyerShare)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	sellerShare, err := parseSignedAmount("sellerShare", params.SellerShare)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	if err := s.registry.ResolveDispute(r.Context(), caller, params.ID, buyerShare, sellerShare); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	s.writeAgreement(w, r, req, params.ID)
}

func (s *Server) handleAgreementRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params agreementIDParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	if err := s.registry.ReleasePayment(r.Context(), caller, params.ID); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	s.writeAgreement(w, r, req, params.ID)
}

func (s *Server) handleAgreementGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params agreementIDParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	s.writeAgreement(w, r, req, params.ID)
}

func (s *Server) handleAgreementCount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		invalidParams(w, req, errors.New("too many parameters"))
		return
	}
	count, err := s.registry.AgreementCount(r.Context())
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, countResult{Count: count})
}

func (s *Server) handleAgreementArbitrator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		invalidParams(w, req, errors.New("too many parameters"))
		return
	}
	arbitrator, err := s.registry.Arbitrator(r.Context())
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	owner, err := s.registry.Owner(r.Context())
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, rolesResult{Owner: formatAccount(owner), Arbitrator: formatAccount(arbitrator)})
}

func (s *Server) handleAgreementChangeArbitrator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params changeArbitratorParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req, err)
		return
	}
	next, err := parseAccount("arbitrator", params.Arbitrator)
	if err != nil {
		invalidParams(w, req, err)
		return
	}
	if err := s.registry.ChangeArbitrator(r.Context(), caller, next); err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	owner, err := s.registry.Owner(r.Context())
	if err != nil {
		writeRegistryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, rolesResult{Owner: formatAccount(owner), Arbitrator: formatAccount(next)})
}

// handleAgreementAudit returns the custody report even when it is
// imbalanced. Only storage failures surface as errors.
func (s *Server) handleAgreementAudit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	report, err := s.registry.Audit(r.Context())
	if err != nil && !errors.Is(err, agreement.ErrCustodyImbalance) {
		writeRegistryError(w, req.ID, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeInternal, "audit unavailable", "internal")
		return
	}
	writeResult(w, req.ID, newAuditResult(report))
}
