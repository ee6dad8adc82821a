// Package main is the batch CLI. It resegments the borders of one country's
// tiles and fuses every tile that received new border patches.
//
// Usage:
//
//	go run ./cmd/resegment -country=Ghana -year=2020
//	go run ./cmd/resegment -country=Ghana -start=120 -limit=40 -workers=4
//	go run ./cmd/resegment -country=Ghana -dry-run
//
// Configuration comes from the environment (or a .env file); flags override
// the matching variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tileseam/internal/app"
	"tileseam/internal/config"
)

type options struct {
	country string
	year    int
	start   int
	limit   int
	workers int
	dryRun  bool
}

// parseFlags reads args over the configured defaults.
func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("resegment", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.country, "country", cfg.Run.Country, "Country whose catalog rows are visited")
	fs.IntVar(&o.year, "year", cfg.Run.Year, "Observation year")
	fs.IntVar(&o.start, "start", cfg.Run.StartIndex, "Index of the first catalog tile to visit")
	fs.IntVar(&o.limit, "limit", cfg.Run.Limit, "Maximum number of pairs to visit (0 means all)")
	fs.IntVar(&o.workers, "workers", cfg.Run.Workers, "Pairs processed concurrently")
	fs.BoolVar(&o.dryRun, "dry-run", false, "List the pairs that would be visited and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: resegment [flags]\n\n")
		fmt.Fprintf(stderr, "Resegment tile borders and fuse the touched tiles.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case o.country == "":
		return options{}, fmt.Errorf("-country is required (or set COUNTRY)")
	case o.start < 0 || o.limit < 0:
		return options{}, fmt.Errorf("-start and -limit must not be negative")
	case o.workers < 1:
		return options{}, fmt.Errorf("-workers must be at least 1")
	}
	return o, nil
}

// apply copies the flag values into cfg.
func (o options) apply(cfg *config.Config) {
	cfg.Run.Country = o.country
	cfg.Run.Year = o.year
	cfg.Run.StartIndex = o.start
	cfg.Run.Limit = o.limit
	cfg.Run.Workers = o.workers
}

func main() {
	cfg, err := config.LoadConfig(config.ProviderFor(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	opts.apply(cfg)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("service", cfg.Service, "version", cfg.Build.Version)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, opts, os.Stdout, logger); err != nil {
		logger.Error("batch failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.dryRun {
		for i, p := range a.Runner.Plan(opts.start, opts.limit) {
			fmt.Fprintf(stdout, "%d\t%s\t%s\n", opts.start+i, p.Tile.Tile, p.Neighbor)
		}
		return nil
	}

	sum, err := a.Runner.Run(ctx, opts.start, opts.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, sum.String())
	return nil
}
