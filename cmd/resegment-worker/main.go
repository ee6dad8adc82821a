// Package main is the Lambda entry point. Each invocation runs one batch:
//
//	{"country": "Ghana", "year": 2020, "start_index": 120, "limit": 40}
//
// Omitted fields fall back to the configured defaults. The handler returns
// the run summary; pair failures are reported there, not as an error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"tileseam/internal/app"
	"tileseam/internal/config"
	"tileseam/internal/scheduler"
)

// BatchInput is the invocation payload.
type BatchInput struct {
	Country    string `json:"country"`
	Year       int    `json:"year"`
	StartIndex *int   `json:"start_index,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
}

// batchRunner is the part of scheduler.Runner the handler drives.
type batchRunner interface {
	Run(ctx context.Context, start, limit int) (*scheduler.Summary, error)
}

// buildFunc wires a runner for one invocation and returns its cleanup.
type buildFunc func(ctx context.Context, cfg *config.Config) (batchRunner, func(), error)

// Handler holds the configuration loaded at cold start.
type Handler struct {
	cfg    config.Config
	build  buildFunc
	logger *slog.Logger
}

// Handle runs the batch described by input against a copy of the cold-start
// configuration.
func (h *Handler) Handle(ctx context.Context, input BatchInput) (string, error) {
	cfg := h.cfg
	if input.Country != "" {
		cfg.Run.Country = input.Country
	}
	if input.Year != 0 {
		cfg.Run.Year = input.Year
	}
	if input.StartIndex != nil {
		cfg.Run.StartIndex = *input.StartIndex
	}
	if input.Limit != nil {
		cfg.Run.Limit = *input.Limit
	}
	if cfg.Run.Country == "" {
		return "", fmt.Errorf("country is required")
	}
	if cfg.Run.StartIndex < 0 || cfg.Run.Limit < 0 {
		return "", fmt.Errorf("start_index and limit must not be negative")
	}

	h.logger.InfoContext(ctx, "resegment worker invoked",
		"country", cfg.Run.Country,
		"year", cfg.Run.Year,
		"start_index", cfg.Run.StartIndex,
		"limit", cfg.Run.Limit,
	)

	runner, closeFn, err := h.build(ctx, &cfg)
	if err != nil {
		return "", fmt.Errorf("wiring batch: %w", err)
	}
	defer closeFn()

	sum, err := runner.Run(ctx, cfg.Run.StartIndex, cfg.Run.Limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch interrupted", "error", err)
		return "", err
	}
	return sum.String(), nil
}

func buildApp(logger *slog.Logger) buildFunc {
	return func(ctx context.Context, cfg *config.Config) (batchRunner, func(), error) {
		a, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return a.Runner, a.Close, nil
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("resegment worker initializing (cold start)")

	cfg, err := config.LoadConfig(config.ProviderFor(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("service", cfg.Service, "version", cfg.Build.Version)

	h := &Handler{cfg: *cfg, build: buildApp(logger), logger: logger}
	logger.Info("resegment worker initialized", "environment", cfg.Environment)
	lambda.Start(h.Handle)
}
