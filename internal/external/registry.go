package external

import (
	"log/slog"
	"net/http"
	"time"

	"tileseam/internal/config"
)

// superResolveTimeout bounds one superresolution call. Those carry a whole
// window of 20 m bands and run longer than the classifiers.
const superResolveTimeout = 5 * time.Minute

// ModelRegistry holds the three model clients a batch uses. Each client has
// its own breaker, so a failing model trips only its own.
type ModelRegistry struct {
	Temporal     TemporalClient
	Median       MedianClient
	SuperResolve SuperResolveClient
}

// NewModelRegistry builds the model clients from configuration. opts apply
// to every client's BaseClient.
func NewModelRegistry(cfg config.ModelConfig, logger *slog.Logger, opts ...BaseClientOption) *ModelRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	classifierHTTP := &http.Client{Timeout: timeout}
	superResolveHTTP := &http.Client{Timeout: max(timeout, superResolveTimeout)}

	client := func(httpClient *http.Client, name, url string) *ModelClient {
		return NewModelClient(httpClient, ModelClientConfig{
			Name:   name,
			URL:    url,
			APIKey: cfg.APIKey,
			Logger: logger.With("client", name),
		}, opts...)
	}

	logger.Info("initializing model clients",
		"temporal_url", cfg.TemporalURL,
		"median_url", cfg.MedianURL,
		"superresolve_url", cfg.SuperResolveURL,
		"timeout", timeout.String(),
	)
	return &ModelRegistry{
		Temporal:     TemporalClient{client(classifierHTTP, "temporal", cfg.TemporalURL)},
		Median:       MedianClient{client(classifierHTTP, "median", cfg.MedianURL)},
		SuperResolve: SuperResolveClient{client(superResolveHTTP, "superresolve", cfg.SuperResolveURL)},
	}
}
