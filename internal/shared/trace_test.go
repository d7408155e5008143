package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}
	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}
	if got := TraceID(WithTraceID(context.Background(), "")); got != "-" {
		t.Fatalf("empty trace id should read as -, got %q", got)
	}
}

func TestRunID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithRunID(ctx, "run-1")
	if got := RunID(ctx); got != "run-1" {
		t.Fatalf("expected run-1, got %q", got)
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "c-1")
	if got := CorrelationID(ctx); got != "c-1" {
		t.Fatalf("expected c-1, got %q", got)
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	if NewTraceID() == NewTraceID() || NewRunID() == NewRunID() {
		t.Fatal("expected distinct ids")
	}
}
