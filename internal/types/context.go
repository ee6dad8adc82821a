package types

import "context"

type contextKey string

const runIDKey contextKey = "run_id"

// WithRunID stores the batch run ID in the context. Outbound model calls
// forward it so predictor logs can be joined with batch logs.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID retrieves the batch run ID from the context.
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}
