package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"saleescrow/core/events"
)

func TestAgreementMetricsRecordOutcomes(t *testing.T) {
	m := Agreements()
	before := testutil.ToFloat64(m.operations.WithLabelValues("deposit", "ok"))
	m.ObserveOperation("deposit", "ok", 5*time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("deposit", "ok")); got != before+1 {
		t.Fatalf("expected counter to advance, got %v", got)
	}

	var token [20]byte
	token[0] = 0xEE
	m.SetCustody(token, big.NewInt(1_500))
	if got := testutil.ToFloat64(m.custody.WithLabelValues(events.AssetLabel(token))); got != 1_500 {
		t.Fatalf("unexpected custody gauge %v", got)
	}
	m.SetCustody([20]byte{}, nil)
	if got := testutil.ToFloat64(m.custody.WithLabelValues("native")); got != 0 {
		t.Fatalf("unexpected native custody gauge %v", got)
	}
}

func TestEventMetricsCountByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeDisputeRaised))
	events.Multi{m}.Emit(events.DisputeRaised{ID: 1})
	if got := testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeDisputeRaised)); got != before+1 {
		t.Fatalf("expected event counter to advance, got %v", got)
	}
}

func TestRPCMetricsDefaultsMethod(t *testing.T) {
	m := RPC()
	m.Observe("", "invalid_params", time.Millisecond)
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unknown", "invalid_params")); got < 1 {
		t.Fatalf("expected unknown method to be recorded")
	}
	m.RecordThrottle("rate_limit")
	if got := testutil.ToFloat64(m.throttles.WithLabelValues("rate_limit")); got < 1 {
		t.Fatalf("expected throttle to be recorded")
	}
}
