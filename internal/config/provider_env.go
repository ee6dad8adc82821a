package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves pointers locally: MODEL_API_KEY_SSM_PARAM=DEV_KEY
// makes MODEL_API_KEY take the value of DEV_KEY, so a .env file can alias
// shared variables without SSM access. ProviderFor returns it for APP_ENV
// "local".
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the keys present in the environment. Missing keys
// are omitted.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
