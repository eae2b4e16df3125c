package state

import (
	"context"
	"errors"
	"fmt"

	"saleescrow/native/agreement"
	"saleescrow/native/bank"
)

var (
	_ agreement.State = (*Tx)(nil)
	_ bank.Store      = (*Tx)(nil)
)

// AgreementBackend adapts the manager to the registry's Backend contract.
func (m *Manager) AgreementBackend() agreement.Backend { return agreementBackend{m: m} }

// BankBackend adapts the manager to the ledger's Backend contract.
func (m *Manager) BankBackend() bank.Backend { return bankBackend{m: m} }

type agreementBackend struct{ m *Manager }

func (b agreementBackend) Update(ctx context.Context, fn func(ctx context.Context, st agreement.State) error) error {
	return reentrant(b.m.Update(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) }))
}

func (b agreementBackend) View(ctx context.Context, fn func(st agreement.State) error) error {
	return reentrant(b.m.View(ctx, func(tx *Tx) error { return fn(tx) }))
}

// A registry call that lands on a context owned by another update is the
// same failure as a direct reentrant registry call.
func reentrant(err error) error {
	if errors.Is(err, ErrNestedUpdate) {
		return fmt.Errorf("%w: %w", agreement.ErrReentrantCall, err)
	}
	return err
}

type bankBackend struct{ m *Manager }

func (b bankBackend) Update(ctx context.Context, fn func(ctx context.Context, st bank.Store) error) error {
	return b.m.Update(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (b bankBackend) View(ctx context.Context, fn func(st bank.Store) error) error {
	return b.m.View(ctx, func(tx *Tx) error { return fn(tx) })
}
