package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type capturedCall struct {
	Method string
	Params []json.RawMessage
	Auth   string
}

// fakeNode answers every call with result and records what it received.
func fakeNode(t *testing.T, result string, rpcErr string) (*httptest.Server, *[]capturedCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []capturedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		calls = append(calls, capturedCall{Method: req.Method, Params: req.Params, Auth: r.Header.Get("Authorization")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if rpcErr != "" {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":` + rpcErr + `}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decodeParam(t *testing.T, call capturedCall) map[string]interface{} {
	t.Helper()
	require.Len(t, call.Params, 1)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(call.Params[0], &out))
	return out
}

func TestCreateSendsNormalizedAmountWithBearer(t *testing.T) {
	srv, calls := fakeNode(t, `{"id":1}`, "")
	code, stdout, stderr := runCLI("--rpc", srv.URL, "--token", "jwt-value",
		"create", "--buyer", "esc1buyer", "--amount", "15e2", "--asset", "native")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, `"id": 1`)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "agreement_create", call.Method)
	require.Equal(t, "Bearer jwt-value", call.Auth)
	params := decodeParam(t, call)
	require.Equal(t, "1500", params["amount"])
	require.Equal(t, "esc1buyer", params["buyer"])
	require.Equal(t, "native", params["asset"])
}

func TestMutatingCommandRequiresToken(t *testing.T) {
	srv, calls := fakeNode(t, `{}`, "")
	code, _, stderr := runCLI("--rpc", srv.URL, "--token", "", "release", "--id", "3")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "requires a caller token")
	require.Empty(t, *calls)
}

func TestReadCommandsOmitAuth(t *testing.T) {
	srv, calls := fakeNode(t, `{"count":2}`, "")
	code, stdout, _ := runCLI("--rpc", srv.URL, "--token", "ignored", "count")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"count": 2`)
	require.Equal(t, "agreement_count", (*calls)[0].Method)
	require.Empty(t, (*calls)[0].Auth)
	require.Empty(t, (*calls)[0].Params)
}

func TestResolveSendsBothShares(t *testing.T) {
	srv, calls := fakeNode(t, `{"status":"completed"}`, "")
	code, _, stderr := runCLI("--rpc", srv.URL, "--token", "t",
		"resolve", "--id", "7", "--buyer-share", "400", "--seller-share", "6e2")
	require.Equal(t, 0, code, stderr)
	params := decodeParam(t, (*calls)[0])
	require.Equal(t, "agreement_resolve", (*calls)[0].Method)
	require.EqualValues(t, 7, params["id"])
	require.Equal(t, "400", params["buyerShare"])
	require.Equal(t, "600", params["sellerShare"])
}

func TestRPCErrorIsReportedOnStderr(t *testing.T) {
	srv, _ := fakeNode(t, "", `{"code":-32024,"message":"invalid state","data":"invalid_state"}`)
	code, stdout, stderr := runCLI("--rpc", srv.URL, "--token", "t", "dispute", "--id", "1")
	require.Equal(t, 1, code)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "RPC error -32024: invalid state (invalid_state)")
}

func TestApproveAndEventsParams(t *testing.T) {
	srv, calls := fakeNode(t, `{}`, "")
	code, _, stderr := runCLI("--rpc", srv.URL, "--token", "t", "approve", "--token", "tok1abc", "--amount", "250")
	require.Equal(t, 0, code, stderr)
	params := decodeParam(t, (*calls)[0])
	require.Equal(t, "token_approve", (*calls)[0].Method)
	require.Equal(t, "tok1abc", params["token"])
	require.NotContains(t, params, "spender")

	code, _, stderr = runCLI("--rpc", srv.URL, "events", "--cursor", "4", "--limit", "10")
	require.Equal(t, 0, code, stderr)
	params = decodeParam(t, (*calls)[1])
	require.Equal(t, "events_list", (*calls)[1].Method)
	require.EqualValues(t, 4, params["cursor"])
	require.EqualValues(t, 10, params["limit"])
}

func TestMissingFlagsFailBeforeCalling(t *testing.T) {
	srv, calls := fakeNode(t, `{}`, "")
	cases := [][]string{
		{"create", "--buyer", "esc1x"},
		{"deposit"},
		{"resolve", "--id", "1", "--buyer-share", "1"},
		{"change-arbitrator"},
		{"balance"},
		{"token"},
		{"create", "--buyer", "esc1x", "--amount", "-5"},
	}
	for _, args := range cases {
		code, _, _ := runCLI(append([]string{"--rpc", srv.URL, "--token", "t"}, args...)...)
		require.Equal(t, 1, code, "args %v", args)
	}
	require.Empty(t, *calls)
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	code, _, stderr := runCLI("frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: frobnicate")
	require.Contains(t, stderr, "change-arbitrator")
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "1000", want: "1000", ok: true},
		{in: " 3e3 ", want: "3000", ok: true},
		{in: "1E18", want: "1000000000000000000", ok: true},
		{in: "0", want: "0", ok: true},
		{in: "", ok: false},
		{in: "1.5", ok: false},
		{in: "-1", ok: false},
		{in: "2e-1", ok: false},
		{in: "abc", ok: false},
	}
	for _, tc := range cases {
		got, err := normalizeAmount(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestKeygenPrintsAccount(t *testing.T) {
	code, stdout, stderr := runCLI("keygen")
	require.Equal(t, 0, code, stderr)
	var out keygenOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.True(t, strings.HasPrefix(out.Address, "esc1"), out.Address)
	require.Len(t, out.PrivateKey, 64)
}

func TestIssueTokenSignsSubject(t *testing.T) {
	subject := "0x0404040404040404040404040404040404040404"
	code, stdout, stderr := runCLI("issue-token", "--secret", "s3cret", "--subject", subject,
		"--issuer", "escrowd", "--audience", "escrow-cli", "--ttl", "0")
	require.Equal(t, 0, code, stderr)
	var out issueTokenOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(out.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("escrowd"), jwt.WithAudience("escrow-cli"))
	require.NoError(t, err)
	require.Equal(t, subject, claims.Subject)
	require.Nil(t, claims.ExpiresAt)

	code, _, stderr = runCLI("issue-token", "--secret", "s3cret", "--subject", "not-an-address")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "invalid subject")
}
