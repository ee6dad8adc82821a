// Package app assembles a batch runner from configuration. Both binaries
// build their runner here so the CLI and the Lambda worker behave the same.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"tileseam/internal/border"
	"tileseam/internal/catalog"
	"tileseam/internal/config"
	"tileseam/internal/db"
	"tileseam/internal/external"
	"tileseam/internal/geometry"
	"tileseam/internal/inference"
	"tileseam/internal/metrics"
	"tileseam/internal/mosaic"
	"tileseam/internal/preprocess"
	"tileseam/internal/queue"
	"tileseam/internal/scheduler"
	"tileseam/internal/storage"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
	"tileseam/internal/zarr"
)

// App is a wired runner and the resources it holds.
type App struct {
	Runner  *scheduler.Runner
	Catalog *catalog.Catalog
	closers []func()
}

// Close releases pooled connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Params returns the subtile grid constants of cfg.
func Params(cfg *config.Config) geometry.Params {
	return geometry.Params{
		SubtileSize: cfg.Geometry.SubtileSize,
		Margin:      cfg.Geometry.OverlapMargin,
		Splits:      cfg.Geometry.GridSplits,
	}
}

// Build wires every component named by cfg. Remote storage, the database,
// notifications and metrics are only set up when configured.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	cat, err := catalog.LoadFile(cfg.Run.CatalogPath, cfg.Run.Country)
	if err != nil {
		return nil, err
	}
	a.Catalog = cat
	logger.Info("catalog loaded", "path", cfg.Run.CatalogPath, "country", cfg.Run.Country, "tiles", cat.Len())

	params := Params(cfg)
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	var awsCfg *aws.Config
	needAWS := cfg.AWS.TileBucket != "" || cfg.AWS.NotifyQueueURL != "" || cfg.Observability.EnableMetrics
	if needAWS {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		awsCfg = &c
	}
	endpoint := cfg.AWS.EndpointURL

	local, err := storage.NewLocalStore(cfg.Run.LocalPath)
	if err != nil {
		return nil, err
	}
	var remote storage.ObjectStore
	if cfg.AWS.TileBucket != "" {
		client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
		remote = storage.NewS3Store(client, cfg.AWS.TileBucket)
	}
	fetcher := storage.NewFetcher(local, remote, storage.Layout{Year: cfg.Run.Year}, logger)
	repo := tiles.NewRepository(fetcher, zarr.NewCodec(), logger)

	models := external.NewModelRegistry(cfg.Models, logger)
	pre, err := preprocess.New(preprocess.Options{
		Params:        params,
		MedianLimit:   cfg.Thresholds.MedianSubtileLimit,
		SuperResolver: models.SuperResolve,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	dispatcher := inference.NewDispatcher(models.Temporal, models.Median, params.SubtileSize, logger)

	orchestrator := border.NewOrchestrator(repo, cat, pre, dispatcher, border.Options{
		Params:        params,
		Discontinuity: cfg.Thresholds.Discontinuity,
		Logger:        logger,
	})
	reconciler := mosaic.NewReconciler(repo, params.SubtileSize, logger)

	opts := scheduler.Options{
		Country:     cfg.Run.Country,
		Year:        cfg.Run.Year,
		Workers:     cfg.Run.Workers,
		PairTimeout: cfg.Run.PairTimeout,
		LockTTL:     cfg.Database.LockTTL,
		Logger:      logger,
	}
	if !cfg.Run.KeepLocal {
		opts.Cleaner = repo
	}

	if cfg.Database.URL.IsSet() {
		pool, err := db.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := db.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		opts.Leases = db.NewTileLockRepository(pool, types.RealClock{})
		opts.History = db.NewRunHistoryRepository(pool, types.RealClock{})
		logger.Info("database connection established", "max_conns", cfg.Database.MaxConns)
	}

	if cfg.AWS.NotifyQueueURL != "" {
		client := sqs.NewFromConfig(*awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		opts.Notifier = queue.NewSmoothedNotifier(client, cfg.AWS.NotifyQueueURL, cfg.Run.Year, logger)
	}

	if cfg.Observability.EnableMetrics {
		client := cloudwatch.NewFromConfig(*awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		opts.Metrics = metrics.NewCloudWatchPublisher(client, cfg.Observability.MetricNamespace, cfg.Run.Country, logger)
	}

	a.Runner = scheduler.NewRunner(cat, orchestrator, reconciler, opts)
	return a, nil
}
