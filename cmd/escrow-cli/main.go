package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultEndpoint = "http://127.0.0.1:8547"
	envEndpoint     = "ESCROW_RPC_URL"
	envToken        = "ESCROW_RPC_TOKEN"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// client is a minimal JSON-RPC 2.0 caller.
type client struct {
	endpoint string
	token    string
	http     *http.Client
}

func (c *client) call(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if c.token == "" {
			return nil, nil, fmt.Errorf("%s requires a caller token (--token or %s)", method, envToken)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// cli carries the global options shared by every subcommand.
type cli struct {
	rpc    *client
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name    string
	summary string
	run     func(c *cli, args []string) int
}

var commands = []command{
	{"create", "Open an agreement as the seller", runCreate},
	{"deposit", "Deposit the buyer's payment into custody", runDeposit},
	{"dispute", "Raise a dispute on a funded agreement", runDispute},
	{"resolve", "Settle a dispute with an arbitrator split", runResolve},
	{"release", "Release the full deposit to the seller", runRelease},
	{"get", "Show an agreement by id", runGet},
	{"count", "Show how many agreements exist", runCount},
	{"roles", "Show the owner and the arbitrator", runRoles},
	{"change-arbitrator", "Replace the arbitrator (owner only)", runChangeArbitrator},
	{"audit", "Compare expected custody with the vault balance", runAudit},
	{"balance", "Show an account balance", runBalance},
	{"approve", "Approve a token allowance (vault by default)", runApprove},
	{"token", "Show a registered token", runToken},
	{"events", "List committed events after a cursor", runEvents},
	{"keygen", "Generate a new account key", runKeygen},
	{"issue-token", "Sign a caller token for development", runIssueToken},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("escrow-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	endpoint := global.String("rpc", envOr(envEndpoint, defaultEndpoint), "JSON-RPC endpoint")
	token := global.String("token", os.Getenv(envToken), "caller bearer token")
	timeout := global.Duration("timeout", 15*time.Second, "request timeout")
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	c := &cli{
		rpc: &client{
			endpoint: strings.TrimSpace(*endpoint),
			token:    strings.TrimSpace(*token),
			http:     &http.Client{Timeout: *timeout},
		},
		stdout: stdout,
		stderr: stderr,
	}
	for _, cmd := range commands {
		if cmd.name == rest[0] {
			return cmd.run(c, rest[1:])
		}
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
	fmt.Fprintln(stderr, usage())
	return 1
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage:\n  escrow-cli [--rpc URL] [--token JWT] <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-18s %s\n", cmd.name, cmd.summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

// invoke performs one call and prints the indented result.
func (c *cli) invoke(method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := c.rpc.call(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(c.stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(c.stderr, "RPC error %d: %s", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(c.stderr, " (%s)", strings.Trim(string(rpcErr.Data), `"`))
		}
		fmt.Fprintln(c.stderr)
		return 1
	}
	writeResult(c.stdout, result)
	return 0
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	fmt.Fprintln(w, out.String())
}
