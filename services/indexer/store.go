package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	_ "modernc.org/sqlite"

	"saleescrow/core/events"
)

// ErrNotFound is returned when no agreement row exists for an id.
var ErrNotFound = errors.New("indexer: not found")

const cursorName = "events"

// AgreementRow is the latest projected state of one agreement.
type AgreementRow struct {
	ID          uint64
	Seller      string
	Buyer       string
	Asset       string
	Amount      string
	Deposited   string
	Status      string
	RaisedBy    string
	BuyerShare  string
	SellerShare string
	Sequence    uint64
	UpdatedAt   int64
}

// Indexer persists the committed event log into SQLite for off-line audit
// queries.
type Indexer struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*Indexer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The projection is written by a single goroutine.
	db.SetMaxOpenConns(1)
	ix := &Indexer{db: db, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := ix.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

// SetLogger installs the structured logger used by Run.
func (ix *Indexer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		ix.logger = logger
	}
}

func (ix *Indexer) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            agreement_id INTEGER,
            attributes TEXT NOT NULL,
            timestamp INTEGER NOT NULL,
            prev_hash TEXT NOT NULL,
            hash TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_agreement ON events(agreement_id);`,
		`CREATE TABLE IF NOT EXISTS agreements (
            id INTEGER PRIMARY KEY,
            seller TEXT NOT NULL,
            buyer TEXT NOT NULL,
            asset TEXT NOT NULL,
            amount TEXT NOT NULL,
            deposited TEXT NOT NULL,
            status TEXT NOT NULL,
            raised_by TEXT NOT NULL DEFAULT '',
            buyer_share TEXT NOT NULL DEFAULT '0',
            seller_share TEXT NOT NULL DEFAULT '0',
            sequence INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS event_cursor (
            name TEXT PRIMARY KEY,
            sequence INTEGER NOT NULL,
            hash TEXT NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := ix.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (ix *Indexer) Close() error {
	return ix.db.Close()
}

// Cursor returns the sequence of the last indexed record, zero when empty.
func (ix *Indexer) Cursor(ctx context.Context) (uint64, error) {
	seq, _, err := ix.Head(ctx)
	return seq, err
}

// Head returns the sequence and hash of the last indexed record.
func (ix *Indexer) Head(ctx context.Context) (uint64, string, error) {
	return head(ctx, ix.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func head(ctx context.Context, q queryer) (uint64, string, error) {
	const query = `SELECT sequence, hash FROM event_cursor WHERE name = ?`
	var (
		seq  int64
		hash string
	)
	err := q.QueryRowContext(ctx, query, cursorName).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(seq), hash, nil
}

// Events returns every indexed record that references agreementID, oldest
// first.
func (ix *Indexer) Events(ctx context.Context, agreementID uint64) ([]events.Record, error) {
	const query = `SELECT sequence, type, attributes, timestamp, prev_hash, hash FROM events WHERE agreement_id = ? ORDER BY sequence`
	rows, err := ix.db.QueryContext(ctx, query, int64(agreementID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Record
	for rows.Next() {
		var (
			rec   events.Record
			seq   int64
			attrs string
		)
		if err := rows.Scan(&seq, &rec.Type, &attrs, &rec.Timestamp, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, err
		}
		rec.Sequence = uint64(seq)
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode attributes of record %d: %w", rec.Sequence, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Agreement returns the projected row for id.
func (ix *Indexer) Agreement(ctx context.Context, id uint64) (*AgreementRow, error) {
	const query = `SELECT id, seller, buyer, asset, amount, deposited, status, raised_by, buyer_share, seller_share, sequence, updated_at FROM agreements WHERE id = ?`
	var (
		row    AgreementRow
		rowID  int64
		seqNum int64
	)
	err := ix.db.QueryRowContext(ctx, query, int64(id)).Scan(
		&rowID, &row.Seller, &row.Buyer, &row.Asset, &row.Amount, &row.Deposited,
		&row.Status, &row.RaisedBy, &row.BuyerShare, &row.SellerShare, &seqNum, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: agreement %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	row.ID = uint64(rowID)
	row.Sequence = uint64(seqNum)
	return &row, nil
}

func agreementID(rec events.Record) (uint64, bool) {
	raw, ok := rec.Attributes["agreementId"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
