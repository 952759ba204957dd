package shared

import (
	"context"
	"testing"
)

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// Default is "-".
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected '-', got %q", got)
	}

	ctx = WithTraceID(ctx, "trace-1")
	if got := TraceID(ctx); got != "trace-1" {
		t.Fatalf("expected trace-1, got %q", got)
	}

	// Overwrite.
	ctx = WithTraceID(ctx, "trace-2")
	if got := TraceID(ctx); got != "trace-2" {
		t.Fatalf("expected trace-2, got %q", got)
	}
}

func TestNewTraceID_Unique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Fatal("expected distinct trace IDs")
	}
}

func TestActor_DefaultEmpty(t *testing.T) {
	ctx := context.Background()
	if got := Actor(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithActor(ctx, "alice")
	if got := Actor(ctx); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
}

func TestProjectPath_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := ProjectPath(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithProjectPath(ctx, "/srv/demo")
	if got := ProjectPath(ctx); got != "/srv/demo" {
		t.Fatalf("expected /srv/demo, got %q", got)
	}
}
