// Package config defines the configuration structure for the tileseam batch
// binaries. Configuration is loaded once at process start (CLI invocation or
// Lambda cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the process on startup.
package config

import (
	"time"

	"tileseam/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tileseam"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Run           RunConfig
	Geometry      GeometryConfig
	Thresholds    ThresholdConfig
	AWS           AWSConfig
	Models        ModelConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// RunConfig selects which tiles a batch visits and how hard it works.
type RunConfig struct {
	Year        int           `envconfig:"YEAR" default:"2020" validate:"gte=2015,lte=2100"`
	Country     string        `envconfig:"COUNTRY"`
	CatalogPath string        `envconfig:"CATALOG_PATH" default:"processing_area.csv" validate:"required"`
	LocalPath   string        `envconfig:"LOCAL_PATH" default:"tiles" validate:"required"`
	Workers     int           `envconfig:"WORKERS" default:"2" validate:"gte=1,lte=64"`
	PairTimeout time.Duration `envconfig:"PAIR_TIMEOUT" default:"20m"`
	StartIndex  int           `envconfig:"START_INDEX" default:"0" validate:"gte=0"`
	Limit       int           `envconfig:"LIMIT" default:"0" validate:"gte=0"`
	// KeepLocal retains downloaded raw observations after a pair finishes.
	KeepLocal bool `envconfig:"KEEP_LOCAL" default:"false"`
}

// GeometryConfig holds the subtile grid parameters.
type GeometryConfig struct {
	SubtileSize   int `envconfig:"SUBTILE_SIZE" default:"168" validate:"gte=16"`
	OverlapMargin int `envconfig:"OVERLAP_MARGIN" default:"7" validate:"gte=1"`
	GridSplits    int `envconfig:"GRID_SPLITS" default:"4" validate:"gte=1"`
}

// ThresholdConfig holds the decision thresholds of the border orchestrator
// and the subtile preprocessor.
type ThresholdConfig struct {
	Discontinuity      float64 `envconfig:"DISCONTINUITY_THRESHOLD" default:"15" validate:"gt=0"`
	MedianSubtileLimit int     `envconfig:"MEDIAN_SUBTILE_LIMIT" default:"5" validate:"gte=1"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// TileBucket holds raw, processed and finished tile trees. Empty runs the
	// batch against LOCAL_PATH only.
	TileBucket     string `envconfig:"TILE_BUCKET"`
	NotifyQueueURL string `envconfig:"NOTIFY_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ModelConfig points at the three prediction services.
type ModelConfig struct {
	TemporalURL     string        `envconfig:"TEMPORAL_MODEL_URL" validate:"required,url"`
	MedianURL       string        `envconfig:"MEDIAN_MODEL_URL" validate:"required,url"`
	SuperResolveURL string        `envconfig:"SUPERRESOLVE_MODEL_URL" validate:"required,url"`
	APIKey          SecretString  `envconfig:"MODEL_API_KEY"`
	Timeout         time.Duration `envconfig:"MODEL_TIMEOUT" default:"2m"`
}

// DatabaseConfig is optional. When URL is empty, tile locks are process-local
// and run history is not recorded.
type DatabaseConfig struct {
	URL      SecretString  `envconfig:"DATABASE_URL"`
	MaxConns int           `envconfig:"DB_MAX_CONNS" default:"4"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"45m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"TileSeam"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
