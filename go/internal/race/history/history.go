// Package history aggregates per-user test and race history into
// user_stats.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/typerace/go/internal/models"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const statsColumns = `user_id, total_tests, best_wpm, average_wpm, average_accuracy,
	average_consistency, total_races, races_won, updated_at`

// NewPool opens a pgx pool and verifies the connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Recompute rebuilds userID's stats from test_results and race_participants.
func (r *Repository) Recompute(ctx context.Context, userID string) (*models.UserStats, error) {
	var stats *models.UserStats
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		stats, err = Recompute(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Recompute upserts the aggregate row for userID using conn.
func Recompute(ctx context.Context, conn Querier, userID string) (*models.UserStats, error) {
	row := conn.QueryRow(ctx, `
	with tests as (
		select count(*)                          as total_tests,
		       coalesce(max(wpm), 0)             as best_wpm,
		       coalesce(avg(wpm), 0)::float8     as average_wpm,
		       coalesce(avg(accuracy), 0)::float8    as average_accuracy,
		       coalesce(avg(consistency), 0)::float8 as average_consistency
		from test_results where user_id = $1
	), races as (
		select count(*) filter (where finished)     as total_races,
		       count(*) filter (where position = 1) as races_won
		from race_participants where user_id = $1
	)
	insert into user_stats (`+statsColumns+`)
	select $1, t.total_tests, t.best_wpm, t.average_wpm, t.average_accuracy,
	       t.average_consistency, r.total_races, r.races_won, now()
	from tests t, races r
	on conflict (user_id) do update set
		total_tests = excluded.total_tests,
		best_wpm = excluded.best_wpm,
		average_wpm = excluded.average_wpm,
		average_accuracy = excluded.average_accuracy,
		average_consistency = excluded.average_consistency,
		total_races = excluded.total_races,
		races_won = excluded.races_won,
		updated_at = excluded.updated_at
	returning `+statsColumns,
		userID,
	)
	stats, err := readStats(row)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute stats for %s: %w", userID, err)
	}
	return stats, nil
}

// Get returns userID's stats, or zero stats if nothing has been recorded.
func (r *Repository) Get(ctx context.Context, userID string) (*models.UserStats, error) {
	row := r.pool.QueryRow(ctx, `select `+statsColumns+` from user_stats where user_id = $1`, userID)
	stats, err := readStats(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", userID, err)
	}
	return stats, nil
}

// Leaderboard lists users by best WPM.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]models.UserStats, error) {
	rows, err := r.pool.Query(ctx,
		`select `+statsColumns+` from user_stats order by best_wpm desc, average_wpm desc, user_id limit $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	ret := make([]models.UserStats, 0)
	for rows.Next() {
		item, err := readStats(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, *item)
	}
	return ret, rows.Err()
}

func readStats(row pgx.Row) (*models.UserStats, error) {
	var s models.UserStats
	if err := row.Scan(
		&s.UserID,
		&s.TotalTests,
		&s.BestWPM,
		&s.AverageWPM,
		&s.AverageAccuracy,
		&s.AverageConsistency,
		&s.TotalRaces,
		&s.RacesWon,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
