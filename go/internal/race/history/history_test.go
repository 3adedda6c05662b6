package history

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/typerace/go/internal/race/db"
)

func TestRecomputeAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(dsn))
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	user := "hist-" + uuid.NewString()[:8]
	for _, wpm := range []int{40, 60} {
		_, err := pool.Exec(ctx, `insert into test_results
			(id, user_id, mode, duration, wpm, raw_wpm, accuracy, consistency, raw_chars, correct_chars, errors)
			values ($1, $2, 'time', 30, $3, $3, 90, 70, 100, 90, 10)`,
			uuid.New(), user, wpm)
		require.NoError(t, err)
	}

	repo := NewRepository(pool)
	empty, err := repo.Get(ctx, "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, empty.TotalTests)

	stats, err := repo.Recompute(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTests)
	assert.Equal(t, 60, stats.BestWPM)
	assert.InDelta(t, 50.0, stats.AverageWPM, 0.001)
	assert.InDelta(t, 90.0, stats.AverageAccuracy, 0.001)

	got, err := repo.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, stats.BestWPM, got.BestWPM)

	board, err := repo.Leaderboard(ctx, 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, board)
}
