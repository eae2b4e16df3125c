package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"saleescrow/core/events"
)

var (
	// ErrSequenceGap is returned when a record does not directly follow the
	// indexed head.
	ErrSequenceGap = errors.New("indexer: sequence gap")
	// ErrHashMismatch is returned when a record's prevHash does not link to the
	// indexed head.
	ErrHashMismatch = errors.New("indexer: prev hash mismatch")
)

// Run indexes log from the stored cursor until ctx is cancelled. A dropped
// subscription is re-established from the last indexed record.
func (ix *Indexer) Run(ctx context.Context, log *events.Log) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		cursor, err := ix.Cursor(ctx)
		if err != nil {
			return err
		}
		updates, cancel, backlog := log.Subscribe(ctx, cursor)
		err = ix.drain(ctx, updates, backlog)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		ix.logger.Warn("indexer subscription dropped, resubscribing", slog.Uint64("cursor", cursor))
	}
}

func (ix *Indexer) drain(ctx context.Context, updates <-chan events.Record, backlog []events.Record) error {
	for _, rec := range backlog {
		if err := ix.Apply(ctx, rec); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if err := ix.Apply(ctx, rec); err != nil {
				return err
			}
		}
	}
}

// Apply stores rec, its agreement projection and the advanced cursor in one
// SQL transaction. Records at or below the cursor are ignored.
func (ix *Indexer) Apply(ctx context.Context, rec events.Record) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	seq, hash, err := head(ctx, tx)
	if err != nil {
		return err
	}
	if rec.Sequence <= seq {
		return nil
	}
	// An empty head accepts any starting point so a fresh index can attach to
	// a resumed log.
	if seq != 0 || hash != "" {
		if rec.Sequence != seq+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, seq, rec.Sequence)
		}
		if rec.PrevHash != hash {
			return fmt.Errorf("%w at record %d", ErrHashMismatch, rec.Sequence)
		}
	}

	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return err
	}
	var idArg interface{}
	id, hasID := agreementID(rec)
	if hasID {
		idArg = int64(id)
	}
	const insertEvent = `INSERT INTO events(sequence, type, agreement_id, attributes, timestamp, prev_hash, hash) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertEvent, int64(rec.Sequence), rec.Type, idArg, string(attrs), rec.Timestamp, rec.PrevHash, rec.Hash); err != nil {
		return err
	}
	if hasID {
		if err := project(ctx, tx, id, rec); err != nil {
			return err
		}
	}
	const advance = `INSERT INTO event_cursor(name, sequence, hash) VALUES(?, ?, ?) ON CONFLICT(name) DO UPDATE SET sequence = excluded.sequence, hash = excluded.hash`
	if _, err := tx.ExecContext(ctx, advance, cursorName, int64(rec.Sequence), rec.Hash); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ix.logger.Debug("indexed event",
		slog.Uint64("sequence", rec.Sequence),
		slog.String("type", rec.Type))
	return nil
}

// project folds one agreement event into the agreements table.
func project(ctx context.Context, tx *sql.Tx, id uint64, rec events.Record) error {
	attr := rec.Attributes
	seq := int64(rec.Sequence)
	var (
		stmt string
		args []interface{}
	)
	switch rec.Type {
	case events.TypeAgreementCreated:
		stmt = `INSERT OR REPLACE INTO agreements(id, seller, buyer, asset, amount, deposited, status, sequence, updated_at) VALUES (?, ?, ?, ?, ?, '0', 'created', ?, ?)`
		args = []interface{}{int64(id), attr["seller"], attr["buyer"], attr["asset"], attr["amount"], seq, rec.Timestamp}
	case events.TypePaymentDeposited:
		stmt = `UPDATE agreements SET deposited = ?, status = 'funded', sequence = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{attr["amount"], seq, rec.Timestamp, int64(id)}
	case events.TypeDisputeRaised:
		stmt = `UPDATE agreements SET raised_by = ?, status = 'disputed', sequence = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{attr["raisedBy"], seq, rec.Timestamp, int64(id)}
	case events.TypeDisputeResolved:
		stmt = `UPDATE agreements SET buyer_share = ?, seller_share = ?, status = 'completed', sequence = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{attr["buyerShare"], attr["sellerShare"], seq, rec.Timestamp, int64(id)}
	case events.TypePaymentReleased:
		stmt = `UPDATE agreements SET buyer_share = '0', seller_share = ?, status = 'completed', sequence = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{attr["amount"], seq, rec.Timestamp, int64(id)}
	default:
		return nil
	}
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}
