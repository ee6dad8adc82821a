package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tileseam/internal/types"
)

const testRunID = "6f1c2d3e-0000-4000-8000-000000000001"

func TestRunHistoryRepository_Start(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, fixedClock{lockNow})
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"),
		[]any{testRunID, "Ghana", 2020, lockNow, RunStatusRunning}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Start(ctx, RunStart{ID: testRunID, Country: "Ghana", Year: 2020})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRunHistoryRepository_RecordPair(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		reason, ok := args[4].(*string)
		return ok && reason != nil && *reason == "skip_tiles_agree" &&
			args[1] == 10 && args[2] == 20 && args[5] == int64(1500)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.RecordPair(ctx, testRunID, PairOutcome{
		Tile:     types.TileID{X: 10, Y: 20},
		Outcome:  "skipped",
		Reason:   "skip_tiles_agree",
		Duration: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRunHistoryRepository_RecordPair_NoReason(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		reason, ok := args[4].(*string)
		return ok && reason == nil
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, repo.RecordPair(ctx, testRunID, PairOutcome{Tile: types.TileID{X: 1, Y: 1}, Outcome: "done"}))
	db.AssertExpectations(t)
}

func TestRunHistoryRepository_Finish(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, fixedClock{lockNow})
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		errMsg, ok := args[8].(*string)
		return ok && errMsg != nil && *errMsg == "catalog unreadable" &&
			args[2] == RunStatusFailed && args[5] == 0
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Finish(ctx, testRunID, RunSummary{Status: RunStatusFailed, Err: errors.New("catalog unreadable")})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestRunHistoryRepository_Finish_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, nil)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Finish(ctx, testRunID, RunSummary{Status: RunStatusSucceeded})
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}

func TestRunHistoryRepository_Recent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, nil)
	ctx := context.Background()

	finished := lockNow.Add(time.Hour)
	rows := newMockRows([][]any{
		{testRunID, "Ghana", 2020, lockNow, finished, RunStatusSucceeded, 10, 6, 3, 1, 12},
		{"6f1c2d3e-0000-4000-8000-000000000002", "Ghana", 2020, lockNow.Add(-time.Hour), nil, RunStatusRunning, 0, 0, 0, 0, 0},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"Ghana", 5}).Return(rows, nil)

	runs, err := repo.Recent(ctx, "Ghana", 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 6, runs[0].PairsDone)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, *runs[0].FinishedAt)
	assert.Nil(t, runs[1].FinishedAt)
	assert.True(t, rows.closed)
}

func TestRunHistoryRepository_Recent_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewRunHistoryRepository(db, nil)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("timeout"))

	_, err := repo.Recent(ctx, "Ghana", 5)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
