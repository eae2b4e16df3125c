package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "escrowd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected missing service name to be rejected")
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,bad, =skip,tenant=escrow")
	if len(headers) != 2 || headers["authorization"] != "Bearer x" || headers["tenant"] != "escrow" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestSamplerBounds(t *testing.T) {
	for _, ratio := range []float64{0, 0.25, 1, 5} {
		if sampler(ratio) == nil {
			t.Fatalf("sampler(%v) returned nil", ratio)
		}
	}
	if Tracer() == nil {
		t.Fatalf("tracer must never be nil")
	}
}

func TestInitTracesInstallsTraceContextOnly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "escrowd",
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		Traces:      true,
		SampleRatio: 0.5,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	fields := otel.GetTextMapPropagator().Fields()
	if len(fields) != 2 || fields[0] != "traceparent" || fields[1] != "tracestate" {
		t.Fatalf("unexpected propagator fields %v", fields)
	}
}
