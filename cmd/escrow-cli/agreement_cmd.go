package main

import (
	"fmt"
	"math/big"
	"strings"
)

func runCreate(c *cli, args []string) int {
	fs := c.newFlagSet("create")
	buyer := fs.String("buyer", "", "buyer account (esc1...)")
	amount := fs.String("amount", "", "agreed price in base units (supports 100e18 shorthand)")
	asset := fs.String("asset", "", "settlement asset: native or a token address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*buyer) == "" || strings.TrimSpace(*amount) == "" {
		return c.fail("--buyer and --amount are required")
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return c.fail(err.Error())
	}
	params := map[string]string{
		"buyer":  strings.TrimSpace(*buyer),
		"amount": normalized,
	}
	if a := strings.TrimSpace(*asset); a != "" {
		params["asset"] = a
	}
	return c.invoke("agreement_create", params, true)
}

func runDeposit(c *cli, args []string) int {
	fs := c.newFlagSet("deposit")
	id := fs.Uint64("id", 0, "agreement id")
	amount := fs.String("amount", "", "attached native value; must equal the agreed price")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return c.fail("--id is required")
	}
	params := map[string]interface{}{"id": *id}
	if strings.TrimSpace(*amount) != "" {
		normalized, err := normalizeAmount(*amount)
		if err != nil {
			return c.fail(err.Error())
		}
		params["amount"] = normalized
	}
	return c.invoke("agreement_deposit", params, true)
}

func runDispute(c *cli, args []string) int {
	return c.agreementByID("dispute", "agreement_dispute", args, true)
}

func runRelease(c *cli, args []string) int {
	return c.agreementByID("release", "agreement_release", args, true)
}

func runGet(c *cli, args []string) int {
	return c.agreementByID("get", "agreement_get", args, false)
}

func (c *cli) agreementByID(name, method string, args []string, requireAuth bool) int {
	fs := c.newFlagSet(name)
	id := fs.Uint64("id", 0, "agreement id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return c.fail("--id is required")
	}
	return c.invoke(method, map[string]uint64{"id": *id}, requireAuth)
}

func runResolve(c *cli, args []string) int {
	fs := c.newFlagSet("resolve")
	id := fs.Uint64("id", 0, "agreement id")
	buyerShare := fs.String("buyer-share", "", "portion refunded to the buyer")
	sellerShare := fs.String("seller-share", "", "portion paid to the seller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 || strings.TrimSpace(*buyerShare) == "" || strings.TrimSpace(*sellerShare) == "" {
		return c.fail("--id, --buyer-share and --seller-share are required")
	}
	buyer, err := normalizeAmount(*buyerShare)
	if err != nil {
		return c.fail(err.Error())
	}
	seller, err := normalizeAmount(*sellerShare)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.invoke("agreement_resolve", map[string]interface{}{
		"id":          *id,
		"buyerShare":  buyer,
		"sellerShare": seller,
	}, true)
}

func runCount(c *cli, args []string) int {
	if err := c.newFlagSet("count").Parse(args); err != nil {
		return 1
	}
	return c.invoke("agreement_count", nil, false)
}

func runRoles(c *cli, args []string) int {
	if err := c.newFlagSet("roles").Parse(args); err != nil {
		return 1
	}
	return c.invoke("agreement_arbitrator", nil, false)
}

func runAudit(c *cli, args []string) int {
	if err := c.newFlagSet("audit").Parse(args); err != nil {
		return 1
	}
	return c.invoke("agreement_audit", nil, false)
}

func runChangeArbitrator(c *cli, args []string) int {
	fs := c.newFlagSet("change-arbitrator")
	arbitrator := fs.String("arbitrator", "", "new arbitrator account")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*arbitrator) == "" {
		return c.fail("--arbitrator is required")
	}
	return c.invoke("agreement_changeArbitrator", map[string]string{"arbitrator": strings.TrimSpace(*arbitrator)}, true)
}

func runBalance(c *cli, args []string) int {
	fs := c.newFlagSet("balance")
	account := fs.String("account", "", "account to query")
	asset := fs.String("asset", "", "native (default) or a token address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*account) == "" {
		return c.fail("--account is required")
	}
	params := map[string]string{"account": strings.TrimSpace(*account)}
	if a := strings.TrimSpace(*asset); a != "" {
		params["asset"] = a
	}
	return c.invoke("bank_balance", params, false)
}

func runApprove(c *cli, args []string) int {
	fs := c.newFlagSet("approve")
	token := fs.String("token", "", "token address")
	spender := fs.String("spender", "", "spender account; defaults to the agreement vault")
	amount := fs.String("amount", "", "allowance in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*token) == "" || strings.TrimSpace(*amount) == "" {
		return c.fail("--token and --amount are required")
	}
	normalized, err := normalizeAmount(*amount)
	if err != nil {
		return c.fail(err.Error())
	}
	params := map[string]string{
		"token":  strings.TrimSpace(*token),
		"amount": normalized,
	}
	if s := strings.TrimSpace(*spender); s != "" {
		params["spender"] = s
	}
	return c.invoke("token_approve", params, true)
}

func runToken(c *cli, args []string) int {
	fs := c.newFlagSet("token")
	token := fs.String("token", "", "token address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*token) == "" {
		return c.fail("--token is required")
	}
	return c.invoke("token_get", map[string]string{"token": strings.TrimSpace(*token)}, false)
}

func runEvents(c *cli, args []string) int {
	fs := c.newFlagSet("events")
	cursor := fs.Uint64("cursor", 0, "return records after this sequence")
	limit := fs.Int("limit", 0, "maximum records to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{"cursor": *cursor}
	if *limit > 0 {
		params["limit"] = *limit
	}
	return c.invoke("events_list", params, false)
}

// normalizeAmount accepts plain base-10 integers and the NeM shorthand,
// where 15e2 stands for 1500.
func normalizeAmount(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("amount required")
	}
	mantissa, exponent, hasExp := strings.Cut(strings.ToLower(trimmed), "e")
	value, ok := new(big.Int).SetString(mantissa, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	if hasExp {
		exp, ok := new(big.Int).SetString(exponent, 10)
		if !ok || exp.Sign() < 0 || exp.Cmp(big.NewInt(77)) > 0 {
			return "", fmt.Errorf("invalid exponent in amount %q", raw)
		}
		value.Mul(value, new(big.Int).Exp(big.NewInt(10), exp, nil))
	}
	return value.String(), nil
}
