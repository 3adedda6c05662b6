package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/typerace/go/internal/config"
	"github.com/mcdev12/typerace/go/internal/race/history"
	"github.com/mcdev12/typerace/go/internal/race/repository"
	"github.com/mcdev12/typerace/go/internal/race/service"
)

type Services struct {
	Race *service.Service
	pool *pgxpool.Pool
}

func setupServices(ctx context.Context, database *sql.DB, dsn string, cfg config.Config) (*Services, error) {
	// Database layer → Repository layer → Service layer
	raceRepo := repository.NewRepository(database, cfg.Race)

	pool, err := history.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history pool: %w", err)
	}
	historyRepo := history.NewRepository(pool)
	recorder := history.NewRecorder(raceRepo, historyRepo)

	raceService := service.New(raceRepo,
		service.WithResults(recorder, raceRepo),
		service.WithStats(historyRepo),
		service.WithStatsRefresh(recorder),
	)

	return &Services{Race: raceService, pool: pool}, nil
}

func (s *Services) Close() {
	s.pool.Close()
}
