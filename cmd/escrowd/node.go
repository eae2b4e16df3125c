package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"saleescrow/config"
	"saleescrow/core/events"
	"saleescrow/core/state"
	"saleescrow/crypto"
	"saleescrow/native/agreement"
	"saleescrow/native/bank"
	"saleescrow/observability"
	"saleescrow/rpc"
	"saleescrow/services/indexer"
	"saleescrow/storage"
)

// node owns every long-lived component of the daemon.
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    *state.Manager
	ledger   *bank.Ledger
	registry *agreement.Registry
	log      *events.Log
	index    *indexer.Indexer
	server   *rpc.Server
}

// newNode opens storage, seeds the ledger on first start, bootstraps the
// registry roles and wires the RPC server.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	if err := cfg.ValidateRoles(); err != nil {
		return nil, err
	}
	owner, err := crypto.ParseAddress(cfg.Owner, crypto.AccountPrefix)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	arbitrator, err := crypto.ParseAddress(cfg.Arbitrator, crypto.AccountPrefix)
	if err != nil {
		return nil, fmt.Errorf("arbitrator: %w", err)
	}

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	n := &node{
		cfg:    cfg,
		logger: logger,
		state:  state.NewManager(db),
		ledger: bank.NewLedger(),
		log:    events.NewLog(),
	}
	fail := func(err error) (*node, error) {
		n.close()
		return nil, err
	}

	if path := strings.TrimSpace(cfg.Indexer.DatabasePath); path != "" {
		ix, err := indexer.Open(path)
		if err != nil {
			return fail(fmt.Errorf("open indexer: %w", err))
		}
		ix.SetLogger(logger.With(slog.String("component", "indexer")))
		n.index = ix
		seq, hash, err := ix.Head(ctx)
		if err != nil {
			return fail(fmt.Errorf("read indexer head: %w", err))
		}
		if err := n.log.Resume(seq, hash); err != nil {
			return fail(err)
		}
	}

	n.registry = agreement.NewRegistry(n.state.AgreementBackend(), n.ledger)
	n.registry.SetEmitter(events.Multi{n.log, observability.Events()})
	n.registry.SetMetrics(observability.Agreements())
	n.registry.SetLogger(logger.With(slog.String("component", "agreement")))

	_, err = n.registry.Owner(ctx)
	firstStart := errors.Is(err, agreement.ErrNotInitialized)
	if err != nil && !firstStart {
		return fail(fmt.Errorf("read registry params: %w", err))
	}
	if err := n.seedLedger(ctx, firstStart); err != nil {
		return fail(err)
	}
	params, err := n.registry.Bootstrap(ctx, agreement.Params{Owner: owner.Array(), Arbitrator: arbitrator.Array()})
	if err != nil {
		return fail(fmt.Errorf("bootstrap registry: %w", err))
	}
	logger.Info("agreement registry ready",
		slog.String("owner", crypto.FromArray(crypto.AccountPrefix, params.Owner).String()),
		slog.String("arbitrator", crypto.FromArray(crypto.AccountPrefix, params.Arbitrator).String()),
		slog.String("vault", crypto.FromArray(crypto.AccountPrefix, n.registry.Vault()).String()),
		slog.Bool("first_start", firstStart))

	n.server = rpc.NewServer(n.registry, n.state.BankBackend(), n.log, rpc.Config{
		Auth: rpc.AuthConfig{
			Secret:   cfg.Auth.Secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger.With(slog.String("component", "rpc")),
	})
	return n, nil
}

// seedLedger registers configured tokens that are not yet known and, on the
// very first start only, credits the genesis balances.
func (n *node) seedLedger(ctx context.Context, firstStart bool) error {
	return n.state.BankBackend().Update(ctx, func(_ context.Context, st bank.Store) error {
		for _, tok := range n.cfg.Tokens {
			addr, err := crypto.ParseAddress(tok.Address, crypto.TokenPrefix)
			if err != nil {
				return fmt.Errorf("token %s: %w", tok.Address, err)
			}
			err = n.ledger.RegisterToken(st, &bank.Token{Address: addr.Array(), Symbol: tok.Symbol, Decimals: tok.Decimals})
			if errors.Is(err, bank.ErrTokenExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("register token %s: %w", tok.Symbol, err)
			}
			n.logger.Info("registered token", slog.String("symbol", strings.ToUpper(tok.Symbol)), slog.String("address", addr.String()))
		}
		if !firstStart {
			return nil
		}
		for _, entry := range n.cfg.Genesis {
			account, err := crypto.ParseAddress(entry.Account, crypto.AccountPrefix)
			if err != nil {
				return fmt.Errorf("genesis account: %w", err)
			}
			asset, err := config.ParseAsset(entry.Asset)
			if err != nil {
				return fmt.Errorf("genesis asset: %w", err)
			}
			amount, err := config.ParseAmount(entry.Amount)
			if err != nil {
				return fmt.Errorf("genesis amount: %w", err)
			}
			if err := n.ledger.Mint(st, asset, account.Array(), amount); err != nil {
				return fmt.Errorf("genesis mint for %s: %w", entry.Account, err)
			}
		}
		return nil
	})
}

func (n *node) close() {
	if n.index != nil {
		if err := n.index.Close(); err != nil {
			n.logger.Warn("close indexer", slog.Any("error", err))
		}
	}
	// The state manager owns the database handle.
	n.state.Close()
}
