package events

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func TestLogSequencesAndChainsRecords(t *testing.T) {
	log := NewLog()
	log.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	log.Emit(AgreementCreated{ID: 0, Seller: [20]byte{1}, Buyer: [20]byte{2}, Amount: big.NewInt(10)})
	log.Emit(PaymentDeposited{ID: 0, Amount: big.NewInt(10)})

	records := log.Since(0, 0)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Sequence != 1 || records[1].Sequence != 2 {
		t.Fatalf("unexpected sequences: %d %d", records[0].Sequence, records[1].Sequence)
	}
	if records[0].PrevHash != "" {
		t.Fatalf("first record should not have a predecessor")
	}
	if records[1].PrevHash != records[0].Hash {
		t.Fatalf("second record must link to the first")
	}
	if records[0].Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %d", records[0].Timestamp)
	}
	if err := log.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestLogVerifyDetectsTampering(t *testing.T) {
	log := NewLog()
	log.Emit(DisputeResolved{ID: 3, BuyerShare: big.NewInt(5), SellerShare: big.NewInt(5)})
	log.Emit(ArbitratorChanged{Old: [20]byte{1}, New: [20]byte{2}})

	log.records[0].Attributes["buyerShare"] = "9"
	if err := log.Verify(); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestLogSinceHonoursCursorAndLimit(t *testing.T) {
	log := NewLog()
	for i := 0; i < 5; i++ {
		log.Emit(DisputeRaised{ID: uint64(i)})
	}
	page := log.Since(2, 2)
	if len(page) != 2 || page[0].Sequence != 3 || page[1].Sequence != 4 {
		t.Fatalf("unexpected page: %#v", page)
	}
	if rest := log.Since(5, 0); len(rest) != 0 {
		t.Fatalf("expected empty tail, got %d", len(rest))
	}
	page[0].Attributes["agreementId"] = "tampered"
	if log.Since(2, 1)[0].Attributes["agreementId"] != "2" {
		t.Fatalf("Since must return copies")
	}
}

func TestLogSubscribeDeliversBacklogAndLiveRecords(t *testing.T) {
	log := NewLog()
	log.Emit(DisputeRaised{ID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, stop, backlog := log.Subscribe(ctx, 0)
	defer stop()
	if len(backlog) != 1 {
		t.Fatalf("expected backlog of 1, got %d", len(backlog))
	}

	log.Emit(DisputeRaised{ID: 2})
	select {
	case rec := <-ch:
		if rec.Sequence != 2 {
			t.Fatalf("unexpected live sequence %d", rec.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live record")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel did not close")
	}
}

func TestLogDropsSlowSubscribers(t *testing.T) {
	log := NewLog()
	log.buffer = 1
	ch, stop, _ := log.Subscribe(context.Background(), 0)
	defer stop()

	log.Emit(DisputeRaised{ID: 1})
	log.Emit(DisputeRaised{ID: 2})

	if _, ok := <-ch; !ok {
		t.Fatalf("expected first buffered record")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed for slow subscriber")
	}
}

func TestLogIgnoresNonProjectableEvents(t *testing.T) {
	log := NewLog()
	log.Emit(plainEvent{})
	if log.Len() != 0 {
		t.Fatalf("non-projectable events must not be recorded")
	}
}

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestLogResumeContinuesSequenceAndChain(t *testing.T) {
	first := NewLog()
	first.Emit(DisputeRaised{ID: 1})
	first.Emit(DisputeRaised{ID: 2})
	seq, hash := first.Head()
	if seq != 2 || hash == "" {
		t.Fatalf("unexpected head %d %q", seq, hash)
	}

	resumed := NewLog()
	if err := resumed.Resume(seq, hash); err != nil {
		t.Fatalf("resume: %v", err)
	}
	resumed.Emit(DisputeRaised{ID: 3})
	records := resumed.Since(0, 0)
	if len(records) != 1 {
		t.Fatalf("expected one retained record, got %d", len(records))
	}
	if records[0].Sequence != 3 || records[0].PrevHash != hash {
		t.Fatalf("resumed record not chained: %+v", records[0])
	}
	if got := resumed.Since(3, 0); len(got) != 0 {
		t.Fatalf("expected nothing after head, got %d", len(got))
	}
	if err := resumed.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := resumed.Resume(9, "x"); !errors.Is(err, ErrLogNotEmpty) {
		t.Fatalf("expected ErrLogNotEmpty, got %v", err)
	}
}
