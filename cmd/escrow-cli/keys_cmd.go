package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"saleescrow/crypto"
	"saleescrow/rpc"
)

const envAuthSecret = "ESCROWD_AUTH_SECRET"

type keygenOutput struct {
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address"`
	Hex        string `json:"hex"`
}

func runKeygen(c *cli, args []string) int {
	if err := c.newFlagSet("keygen").Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail("generate key: " + err.Error())
	}
	addr := key.PubKey().Address()
	return c.printJSON(keygenOutput{
		PrivateKey: key.Hex(),
		Address:    addr.String(),
		Hex:        addr.Hex(),
	})
}

type issueTokenOutput struct {
	Token   string `json:"token"`
	Subject string `json:"subject"`
}

func runIssueToken(c *cli, args []string) int {
	fs := c.newFlagSet("issue-token")
	secret := fs.String("secret", os.Getenv(envAuthSecret), "HS256 signing secret shared with escrowd")
	subject := fs.String("subject", "", "caller account the token speaks for")
	issuer := fs.String("issuer", "", "iss claim; must match auth.issuer when configured")
	audience := fs.String("audience", "", "aud claim; must match auth.audience when configured")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime; 0 issues a token without expiry")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*secret) == "" {
		return c.fail("--secret or " + envAuthSecret + " is required")
	}
	token, err := rpc.IssueToken(*secret, strings.TrimSpace(*subject), strings.TrimSpace(*issuer), strings.TrimSpace(*audience), *ttl)
	if err != nil {
		return c.fail(err.Error())
	}
	return c.printJSON(issueTokenOutput{Token: token, Subject: strings.TrimSpace(*subject)})
}

func (c *cli) printJSON(v interface{}) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return c.fail(err.Error())
	}
	writeResult(c.stdout, raw)
	return 0
}
