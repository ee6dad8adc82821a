package db

import (
	"context"
	"time"

	"tileseam/internal/types"
)

// TileLockRepository provides lease locks on tiles via the tile_locks table,
// so batch processes running on different machines never write the same
// tile's output tree at once. Lock IDs are types.TileID.LockKey values.
type TileLockRepository struct {
	db    DBTX
	clock types.Clock
}

func NewTileLockRepository(db DBTX, clock types.Clock) *TileLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TileLockRepository{db: db, clock: clock}
}

// Acquire takes the lease on tile for owner. It returns false when another
// owner holds an unexpired lease. An owner re-acquiring its own lease
// extends it.
//
// SQL pattern:
//
//	INSERT INTO tile_locks (id, owner, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET owner = EXCLUDED.owner,
//	      locked_at = EXCLUDED.locked_at,
//	      expires_at = EXCLUDED.expires_at
//	  WHERE tile_locks.expires_at < $3 OR tile_locks.owner = $2
//
// Timestamps are computed in Go to avoid PostgreSQL interval parsing of
// Go duration strings.
func (r *TileLockRepository) Acquire(ctx context.Context, tile types.TileID, owner string, ttl time.Duration) (bool, error) {
	now := r.clock.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO tile_locks (id, owner, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET owner = EXCLUDED.owner,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE tile_locks.expires_at < $3 OR tile_locks.owner = $2`,
		tile.LockKey(),
		owner,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire tile lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops owner's lease on tile. Releasing a lease that expired and
// was taken by someone else is a no-op.
func (r *TileLockRepository) Release(ctx context.Context, tile types.TileID, owner string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM tile_locks WHERE id = $1 AND owner = $2`,
		tile.LockKey(),
		owner,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release tile lock", err)
	}
	return nil
}
