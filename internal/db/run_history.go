package db

import (
	"context"
	"time"

	"tileseam/internal/types"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunStart identifies a batch run.
type RunStart struct {
	ID      string // uuid
	Country string
	Year    int
}

// RunSummary is the final tally of a batch run.
type RunSummary struct {
	Status       string
	PairsTotal   int
	PairsDone    int
	PairsSkipped int
	PairsFailed  int
	TilesFused   int
	Err          error
}

// PairOutcome is the result of one tile pair.
type PairOutcome struct {
	Tile     types.TileID
	Outcome  string // "done", "skipped" or "failed"
	Reason   string // error code for skipped and failed pairs
	Duration time.Duration
}

// RunHistoryRepository records batch runs in batch_runs and pair_outcomes.
type RunHistoryRepository struct {
	db    DBTX
	clock types.Clock
}

func NewRunHistoryRepository(db DBTX, clock types.Clock) *RunHistoryRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RunHistoryRepository{db: db, clock: clock}
}

// Start inserts a run with status 'running'.
func (r *RunHistoryRepository) Start(ctx context.Context, run RunStart) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO batch_runs (id, country, year, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID,
		run.Country,
		run.Year,
		r.clock.Now(),
		RunStatusRunning,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to start run history entry", err)
	}
	return nil
}

// RecordPair appends a pair outcome to the run.
func (r *RunHistoryRepository) RecordPair(ctx context.Context, runID string, p PairOutcome) error {
	var reason *string
	if p.Reason != "" {
		reason = &p.Reason
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO pair_outcomes (run_id, tile_x, tile_y, outcome, reason, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID,
		p.Tile.X,
		p.Tile.Y,
		p.Outcome,
		reason,
		p.Duration.Milliseconds(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record pair outcome", err)
	}
	return nil
}

// Finish closes the run with its tally. If s.Err is non-nil, its message is
// stored in the error column.
func (r *RunHistoryRepository) Finish(ctx context.Context, runID string, s RunSummary) error {
	var errMsg *string
	if s.Err != nil {
		msg := s.Err.Error()
		errMsg = &msg
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE batch_runs
		 SET finished_at = $2, status = $3, pairs_total = $4, pairs_done = $5,
		     pairs_skipped = $6, pairs_failed = $7, tiles_fused = $8, error = $9
		 WHERE id = $1`,
		runID,
		r.clock.Now(),
		s.Status,
		s.PairsTotal,
		s.PairsDone,
		s.PairsSkipped,
		s.PairsFailed,
		s.TilesFused,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish run history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "run history entry not found", nil)
	}
	return nil
}

// Recent returns the latest runs for a country, newest first.
func (r *RunHistoryRepository) Recent(ctx context.Context, country string, limit int) ([]RunRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, country, year, started_at, finished_at, status,
		        pairs_total, pairs_done, pairs_skipped, pairs_failed, tiles_fused
		 FROM batch_runs
		 WHERE country = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		country,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query batch runs", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Country,
			&rec.Year,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.Status,
			&rec.PairsTotal,
			&rec.PairsDone,
			&rec.PairsSkipped,
			&rec.PairsFailed,
			&rec.TilesFused,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan batch run", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating batch runs", err)
	}
	return out, nil
}

// RunRecord is a stored batch run.
type RunRecord struct {
	ID           string
	Country      string
	Year         int
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	PairsTotal   int
	PairsDone    int
	PairsSkipped int
	PairsFailed  int
	TilesFused   int
}
