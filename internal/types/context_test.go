package types

import (
	"context"
	"testing"
)

func TestWithRunID_GetRunID(t *testing.T) {
	t.Run("round-trip stores and retrieves run ID", func(t *testing.T) {
		ctx := WithRunID(context.Background(), "run-7f3c")
		if got := GetRunID(ctx); got != "run-7f3c" {
			t.Errorf("got %q, want %q", got, "run-7f3c")
		}
	})

	t.Run("returns empty string when no run ID in context", func(t *testing.T) {
		if got := GetRunID(context.Background()); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}
