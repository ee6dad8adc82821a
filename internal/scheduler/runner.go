// Package scheduler runs a batch of border resegmentation over a country's
// catalog.
//
// A run has two phases. Phase 1 reprocesses every (tile, right neighbor)
// pair on a bounded worker pool; a pair holds both of its tiles exclusively
// while it runs. Phase 2 starts once every pair has finished and fuses each
// tile that received new patches exactly once, so a fused raster never
// misses a patch from a concurrent merge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"tileseam/internal/border"
	"tileseam/internal/catalog"
	"tileseam/internal/db"
	"tileseam/internal/metrics"
	"tileseam/internal/mosaic"
	"tileseam/internal/types"
)

// Pair outcomes.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DefaultPairTimeout bounds one pair when Options.PairTimeout is unset.
const DefaultPairTimeout = 20 * time.Minute

// Catalog is the tile listing a run visits.
type Catalog interface {
	Pairs(start, limit int) []catalog.Pair
	Lookup(id types.TileID) (catalog.Entry, bool)
}

// PairProcessor reprocesses the border between a tile and its right neighbor.
type PairProcessor interface {
	Process(ctx context.Context, tile types.TileID) (*border.Result, error)
}

// Fuser writes a tile's smoothed raster.
type Fuser interface {
	Reconcile(ctx context.Context, tile types.TileID, bound orb.Bound) (*mosaic.Output, error)
}

// LeaseLocker holds tiles across processes. Optional.
type LeaseLocker interface {
	Acquire(ctx context.Context, tile types.TileID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tile types.TileID, owner string) error
}

// History records runs and pair outcomes. Optional.
type History interface {
	Start(ctx context.Context, run db.RunStart) error
	RecordPair(ctx context.Context, runID string, p db.PairOutcome) error
	Finish(ctx context.Context, runID string, s db.RunSummary) error
}

// Notifier announces smoothed tiles. Optional.
type Notifier interface {
	NotifySmoothed(ctx context.Context, tile types.TileID, key string, patches, rejected int) error
}

// Cleaner drops a tile's local working trees. Optional.
type Cleaner interface {
	Cleanup(ctx context.Context, tile types.TileID) error
}

// Options configures a Runner. Zero values pick defaults; nil optional
// collaborators disable their feature.
type Options struct {
	Country     string
	Year        int
	Workers     int
	PairTimeout time.Duration
	LockTTL     time.Duration

	Leases   LeaseLocker
	History  History
	Notifier Notifier
	Cleaner  Cleaner
	Metrics  metrics.Recorder
	Logger   *slog.Logger
}

// Runner executes batch runs. It may run several batches one after another
// but not concurrently.
type Runner struct {
	catalog   Catalog
	processor PairProcessor
	fuser     Fuser
	opts      Options
	tiles     *tileMutexes
	logger    *slog.Logger
}

func NewRunner(cat Catalog, processor PairProcessor, fuser Fuser, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PairTimeout <= 0 {
		opts.PairTimeout = DefaultPairTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.PairTimeout + 5*time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		catalog:   cat,
		processor: processor,
		fuser:     fuser,
		opts:      opts,
		tiles:     newTileMutexes(),
		logger:    opts.Logger,
	}
}

// Summary is the tally of a finished run.
type Summary struct {
	RunID        string
	PairsTotal   int
	PairsDone    int
	PairsSkipped int
	PairsFailed  int
	TilesFused   int
	FuseFailed   int
	Duration     time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("run %s: %d pairs (%d done, %d skipped, %d failed), %d tiles fused, %d fuse failures in %s",
		s.RunID, s.PairsTotal, s.PairsDone, s.PairsSkipped, s.PairsFailed, s.TilesFused, s.FuseFailed,
		s.Duration.Round(time.Second))
}

// Plan lists the pairs a run with the same arguments would visit.
func (r *Runner) Plan(start, limit int) []catalog.Pair {
	return r.catalog.Pairs(start, limit)
}

// Run visits the pairs selected by start and limit. Pair failures are
// counted, not returned; the error is non-nil only when ctx ends the run
// early or the run record cannot be started.
func (r *Runner) Run(ctx context.Context, start, limit int) (*Summary, error) {
	begin := time.Now()
	runID := uuid.New().String()
	ctx = types.WithRunID(ctx, runID)
	log := r.logger.With("run_id", runID, "country", r.opts.Country, "year", r.opts.Year)

	pairs := r.catalog.Pairs(start, limit)
	sum := &Summary{RunID: runID, PairsTotal: len(pairs)}

	if r.opts.History != nil {
		run := db.RunStart{ID: runID, Country: r.opts.Country, Year: r.opts.Year}
		if err := r.opts.History.Start(ctx, run); err != nil {
			return nil, fmt.Errorf("start run record: %w", err)
		}
	}
	log.InfoContext(ctx, "batch started", "pairs", len(pairs), "start", start, "workers", r.opts.Workers)

	touched := r.mergePairs(ctx, pairs, sum, log)
	if ctx.Err() == nil {
		r.fuseTiles(ctx, touched, sum, log)
	}
	r.cleanup(ctx, pairs, log)

	sum.Duration = time.Since(begin)
	runErr := ctx.Err()
	r.finish(ctx, sum, runErr, log)
	if runErr != nil {
		return sum, fmt.Errorf("batch %s interrupted: %w", runID, runErr)
	}
	return sum, nil
}

// mergePairs is phase 1. It returns the tiles that received new patches in
// visiting order.
func (r *Runner) mergePairs(ctx context.Context, pairs []catalog.Pair, sum *Summary, log *slog.Logger) []types.TileID {
	var mu sync.Mutex
	touched := make(map[types.TileID]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, p := range pairs {
		p := p
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := r.runPair(gctx, p, log)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.Outcome {
			case OutcomeDone:
				sum.PairsDone++
				touched[p.Tile.Tile] = true
				touched[p.Neighbor] = true
			case OutcomeSkipped:
				sum.PairsSkipped++
			default:
				sum.PairsFailed++
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]types.TileID, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *Runner) runPair(ctx context.Context, p catalog.Pair, log *slog.Logger) db.PairOutcome {
	tile, neighbor := p.Tile.Tile, p.Neighbor
	begin := time.Now()
	log = log.With("tile_x", tile.X, "tile_y", tile.Y, "neighbor_x", neighbor.X)

	unlock := r.tiles.lockPair(tile, neighbor)
	defer unlock()

	var err error
	if release, lerr := r.lease(ctx, tile, neighbor); lerr != nil {
		err = lerr
	} else {
		defer release()
		err = r.process(ctx, tile)
	}

	outcome := db.PairOutcome{Tile: tile, Outcome: OutcomeDone, Duration: time.Since(begin)}
	switch {
	case err == nil:
		log.InfoContext(ctx, "pair resegmented", "duration_ms", outcome.Duration.Milliseconds())
	case border.IsSkip(err):
		outcome.Outcome = OutcomeSkipped
		outcome.Reason = string(types.CodeOf(err))
		log.InfoContext(ctx, "pair skipped", "reason", outcome.Reason)
	default:
		outcome.Outcome = OutcomeFailed
		outcome.Reason = string(types.CodeOf(err))
		log.ErrorContext(ctx, "pair failed", "reason", outcome.Reason, "error", err.Error())
	}

	r.opts.Metrics.RecordPair(ctx, outcome.Outcome, outcome.Reason, outcome.Duration)
	if r.opts.History != nil {
		if herr := r.opts.History.RecordPair(ctx, types.GetRunID(ctx), outcome); herr != nil {
			log.WarnContext(ctx, "failed to record pair outcome", "error", herr.Error())
		}
	}
	return outcome
}

// process runs one pair under the pair timeout. Expiry maps to
// ErrCodePairTimeout.
func (r *Runner) process(ctx context.Context, tile types.TileID) error {
	pctx, cancel := context.WithTimeout(ctx, r.opts.PairTimeout)
	defer cancel()

	_, err := r.processor.Process(pctx, tile)
	if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodePairTimeout,
			fmt.Sprintf("pair %s exceeded %s", tile, r.opts.PairTimeout), err)
	}
	return err
}

// lease takes the database leases of both tiles in ascending order. A tile
// held by another process is a skip.
func (r *Runner) lease(ctx context.Context, a, b types.TileID) (func(), error) {
	if r.opts.Leases == nil {
		return func() {}, nil
	}
	owner := types.GetRunID(ctx)
	first, second := orderedPair(a, b)

	var held []types.TileID
	release := func() {
		// Released even when the batch is cancelled.
		rctx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if err := r.opts.Leases.Release(rctx, held[i], owner); err != nil {
				r.logger.WarnContext(rctx, "failed to release tile lease",
					"tile_x", held[i].X, "tile_y", held[i].Y, "error", err.Error())
			}
		}
	}
	for _, id := range []types.TileID{first, second} {
		ok, err := r.opts.Leases.Acquire(ctx, id, owner, r.opts.LockTTL)
		if err != nil {
			release()
			return nil, err
		}
		if !ok {
			release()
			return nil, types.NewAppError(types.ErrCodeSkipTileLocked,
				fmt.Sprintf("tile %s is locked by another run", id), nil)
		}
		held = append(held, id)
	}
	return release, nil
}

// fuseTiles is phase 2.
func (r *Runner) fuseTiles(ctx context.Context, tiles []types.TileID, sum *Summary, log *slog.Logger) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, id := range tiles {
		id := id
		g.Go(func() error {
			ok := r.fuseTile(gctx, id, log)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				sum.TilesFused++
			} else {
				sum.FuseFailed++
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) fuseTile(ctx context.Context, id types.TileID, log *slog.Logger) bool {
	log = log.With("tile_x", id.X, "tile_y", id.Y)

	var bound orb.Bound
	if entry, ok := r.catalog.Lookup(id); ok {
		bound = entry.Bound()
	}
	out, err := r.fuser.Reconcile(ctx, id, bound)
	if err != nil {
		log.ErrorContext(ctx, "tile fusion failed", "reason", string(types.CodeOf(err)), "error", err.Error())
		return false
	}
	r.opts.Metrics.RecordFused(ctx, out.Rejected)

	if r.opts.Notifier != nil {
		if err := r.opts.Notifier.NotifySmoothed(ctx, id, out.Key, out.Patches, out.Rejected); err != nil {
			log.WarnContext(ctx, "failed to announce smoothed tile", "key", out.Key, "error", err.Error())
		}
	}
	return true
}

func (r *Runner) cleanup(ctx context.Context, pairs []catalog.Pair, log *slog.Logger) {
	if r.opts.Cleaner == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	seen := make(map[types.TileID]bool)
	for _, p := range pairs {
		for _, id := range []types.TileID{p.Tile.Tile, p.Neighbor} {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := r.opts.Cleaner.Cleanup(ctx, id); err != nil {
				log.WarnContext(ctx, "failed to drop local working trees",
					"tile_x", id.X, "tile_y", id.Y, "error", err.Error())
			}
		}
	}
}

func (r *Runner) finish(ctx context.Context, sum *Summary, runErr error, log *slog.Logger) {
	status := db.RunStatusSucceeded
	if runErr != nil {
		status = db.RunStatusFailed
	}
	log.InfoContext(ctx, "batch finished",
		"status", status,
		"pairs_done", sum.PairsDone,
		"pairs_skipped", sum.PairsSkipped,
		"pairs_failed", sum.PairsFailed,
		"tiles_fused", sum.TilesFused,
		"fuse_failed", sum.FuseFailed,
		"duration_ms", sum.Duration.Milliseconds(),
	)
	if r.opts.History == nil {
		return
	}
	err := r.opts.History.Finish(context.WithoutCancel(ctx), sum.RunID, db.RunSummary{
		Status:       status,
		PairsTotal:   sum.PairsTotal,
		PairsDone:    sum.PairsDone,
		PairsSkipped: sum.PairsSkipped,
		PairsFailed:  sum.PairsFailed,
		TilesFused:   sum.TilesFused,
		Err:          runErr,
	})
	if err != nil {
		log.WarnContext(ctx, "failed to finish run record", "error", err.Error())
	}
}
