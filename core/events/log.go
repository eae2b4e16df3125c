package events

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"saleescrow/core/types"
)

const defaultSubscriberBuffer = 64

var (
	// ErrChainBroken is returned by Verify when a stored record no longer
	// matches its hash link.
	ErrChainBroken = errors.New("events: hash chain broken")
	// ErrLogNotEmpty is returned by Resume once records have been appended.
	ErrLogNotEmpty = errors.New("events: log already has records")
)

// Record is a committed, sequenced entry in the append-only event log.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

func (r Record) clone() Record {
	out := r
	out.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	return out
}

type subscriber struct {
	ch chan Record
}

// Log is an append-only Emitter. Every record is hash-linked to its
// predecessor so consumers can detect gaps or tampering.
type Log struct {
	mu       sync.RWMutex
	base     uint64
	baseHash string
	records  []Record
	subs     map[uint64]*subscriber
	nextSub  uint64
	buffer   int
	nowFn    func() time.Time
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		subs:   make(map[uint64]*subscriber),
		buffer: defaultSubscriberBuffer,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock used to timestamp records.
func (l *Log) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	l.nowFn = now
}

// Resume continues the chain after a previously persisted head so sequence
// numbers stay monotonic across restarts. Records at or below sequence are not
// retained.
func (l *Log) Resume(sequence uint64, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) > 0 {
		return ErrLogNotEmpty
	}
	l.base = sequence
	l.baseHash = hash
	return nil
}

// Head returns the sequence and hash of the latest record.
func (l *Log) Head() (uint64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n := len(l.records); n > 0 {
		return l.records[n-1].Sequence, l.records[n-1].Hash
	}
	return l.base, l.baseHash
}

// Emit implements the Emitter interface. Events without a generic projection
// are ignored.
func (l *Log) Emit(evt Event) {
	projectable, ok := evt.(Projectable)
	if !ok {
		return
	}
	payload := projectable.Event()
	if payload == nil {
		return
	}
	l.append(payload)
}

func (l *Log) append(payload *types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.baseHash
	if n := len(l.records); n > 0 {
		prev = l.records[n-1].Hash
	}
	rec := Record{
		Sequence:   l.base + uint64(len(l.records)) + 1,
		Type:       payload.Type,
		Attributes: payload.Clone().Attributes,
		Timestamp:  l.nowFn().Unix(),
		PrevHash:   prev,
	}
	rec.Hash = recordHash(rec)
	l.records = append(l.records, rec)

	for id, sub := range l.subs {
		select {
		case sub.ch <- rec.clone():
		default:
			// Slow consumers are cut off rather than blocking the writer.
			close(sub.ch)
			delete(l.subs, id)
		}
	}
}

// Len returns the number of records retained since construction or Resume.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Since returns up to limit records with a sequence greater than cursor. A
// non-positive limit returns everything after the cursor.
func (l *Log) Since(cursor uint64, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sinceLocked(cursor, limit)
}

func (l *Log) sinceLocked(cursor uint64, limit int) []Record {
	if cursor < l.base {
		cursor = l.base
	}
	offset := cursor - l.base
	if offset >= uint64(len(l.records)) {
		return nil
	}
	tail := l.records[offset:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]Record, len(tail))
	for i, rec := range tail {
		out[i] = rec.clone()
	}
	return out
}

// Subscribe returns the backlog after cursor together with a channel carrying
// every subsequent record. The channel closes when ctx is cancelled, when the
// returned cancel func runs, or when the subscriber falls too far behind.
func (l *Log) Subscribe(ctx context.Context, cursor uint64) (<-chan Record, func(), []Record) {
	l.mu.Lock()
	backlog := l.sinceLocked(cursor, 0)
	id := l.nextSub
	l.nextSub++
	sub := &subscriber{ch: make(chan Record, l.buffer)}
	l.subs[id] = sub
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if current, ok := l.subs[id]; ok && current == sub {
				close(sub.ch)
				delete(l.subs, id)
			}
		})
	}
	stop := context.AfterFunc(ctx, release)
	cancel := func() {
		stop()
		release()
	}
	return sub.ch, cancel, backlog
}

// Verify recomputes every hash link.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := l.baseHash
	for i, rec := range l.records {
		if rec.Sequence != l.base+uint64(i)+1 {
			return fmt.Errorf("%w: sequence %d at position %d", ErrChainBroken, rec.Sequence, i)
		}
		if rec.PrevHash != prev {
			return fmt.Errorf("%w: record %d prevHash mismatch", ErrChainBroken, rec.Sequence)
		}
		if recordHash(rec) != rec.Hash {
			return fmt.Errorf("%w: record %d hash mismatch", ErrChainBroken, rec.Sequence)
		}
		prev = rec.Hash
	}
	return nil
}

func recordHash(rec Record) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], rec.Sequence)
	prev, _ := hex.DecodeString(rec.PrevHash)
	parts := [][]byte{prev, seq[:], []byte(rec.Type)}
	evt := &types.Event{Type: rec.Type, Attributes: rec.Attributes}
	for _, key := range evt.SortedKeys() {
		parts = append(parts, []byte(key), []byte{0}, []byte(rec.Attributes[key]), []byte{0})
	}
	return hex.EncodeToString(ethcrypto.Keccak256(parts...))
}
