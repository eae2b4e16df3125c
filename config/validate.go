package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"saleescrow/crypto"
	"saleescrow/native/bank"
	"saleescrow/storage"
)

// ErrRolesRequired is returned by ValidateRoles when owner or arbitrator is
// unset.
var ErrRolesRequired = errors.New("config: Owner and Arbitrator must be set")

// Validate checks the static shape of the configuration. Role addresses may
// still be empty here; the daemon calls ValidateRoles before bootstrapping.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: unsupported StorageBackend %q", c.StorageBackend)
	}
	if strings.TrimSpace(c.Owner) != "" {
		if _, err := crypto.ParseAddress(c.Owner, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("config: Owner: %w", err)
		}
	}
	if strings.TrimSpace(c.Arbitrator) != "" {
		if _, err := crypto.ParseAddress(c.Arbitrator, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("config: Arbitrator: %w", err)
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio must be within [0,1]")
	}

	tokens := make(map[[20]byte]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		addr, err := crypto.ParseAddress(tok.Address, crypto.TokenPrefix)
		if err != nil {
			return fmt.Errorf("config: Tokens[%d].Address: %w", i, err)
		}
		if addr.IsZero() {
			return fmt.Errorf("config: Tokens[%d].Address must not be zero", i)
		}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("config: Tokens[%d].Symbol required", i)
		}
		if _, dup := tokens[addr.Array()]; dup {
			return fmt.Errorf("config: Tokens[%d] duplicates %s", i, tok.Address)
		}
		tokens[addr.Array()] = struct{}{}
	}

	for i, entry := range c.Genesis {
		if _, err := crypto.ParseAddress(entry.Account, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("config: Genesis[%d].Account: %w", i, err)
		}
		asset, err := ParseAsset(entry.Asset)
		if err != nil {
			return fmt.Errorf("config: Genesis[%d].Asset: %w", i, err)
		}
		if !bank.IsNative(asset) {
			if _, ok := tokens[asset]; !ok {
				return fmt.Errorf("config: Genesis[%d].Asset %s is not a configured token", i, entry.Asset)
			}
		}
		if _, err := ParseAmount(entry.Amount); err != nil {
			return fmt.Errorf("config: Genesis[%d].Amount: %w", i, err)
		}
	}
	return nil
}

// ValidateRoles ensures the registry roles are configured.
func (c *Config) ValidateRoles() error {
	if strings.TrimSpace(c.Owner) == "" || strings.TrimSpace(c.Arbitrator) == "" {
		return ErrRolesRequired
	}
	return nil
}

// ParseAsset decodes "native" (or an empty string) to the native sentinel and
// anything else as a token address.
func ParseAsset(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "native") {
		return bank.NativeAsset, nil
	}
	addr, err := crypto.ParseAddress(trimmed, crypto.TokenPrefix)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

// ParseAmount decodes a non-negative base-10 integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
