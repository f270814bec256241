package trace

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateID_Format(t *testing.T) {
	id := GenerateID()
	if !strings.HasPrefix(id, "t_") {
		t.Errorf("expected t_ prefix, got %q", id)
	}
	if len(id) != 2+32 {
		t.Errorf("expected 34 characters, got %d (%q)", len(id), id)
	}
	if id == GenerateID() {
		t.Error("expected distinct IDs across calls")
	}
}

func TestFromContext_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := FromContext(ctx); got != "" {
		t.Errorf("expected empty ID from bare context, got %q", got)
	}

	ctx = WithTraceID(ctx, "t_abc")
	if got := FromContext(ctx); got != "t_abc" {
		t.Errorf("expected t_abc, got %q", got)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	if id == "" {
		t.Fatal("expected a generated ID")
	}
	if got := FromContext(ctx); got != id {
		t.Errorf("context carries %q, Ensure returned %q", got, id)
	}

	ctx2, id2 := Ensure(ctx, "")
	if id2 != id {
		t.Errorf("expected existing ID %q to be kept, got %q", id, id2)
	}
	if ctx2 != ctx {
		t.Error("expected context to be reused when an ID is present")
	}

	_, id3 := Ensure(ctx, "t_caller")
	if id3 != "t_caller" {
		t.Errorf("expected preferred ID to win, got %q", id3)
	}
}
