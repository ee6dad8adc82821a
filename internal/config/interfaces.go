package config

import "context"

// SecretProvider resolves secret pointers (SSM parameter paths in deployed
// environments, variable names locally) to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every key it could
	// resolve. Keys it cannot find are omitted or reported as an error,
	// depending on the implementation.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
