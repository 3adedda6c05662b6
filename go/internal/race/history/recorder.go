package history

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/mcdev12/typerace/go/internal/models"
	"github.com/mcdev12/typerace/go/internal/typingtest"
)

// ResultWriter persists a single test result.
type ResultWriter interface {
	SaveTestResult(ctx context.Context, result models.TestResult) (*models.TestResult, error)
}

// StatsUpdater rebuilds a user's aggregate stats.
type StatsUpdater interface {
	Recompute(ctx context.Context, userID string) (*models.UserStats, error)
}

// Recorder saves finished tests and keeps the user's stats current.
type Recorder struct {
	results ResultWriter
	stats   StatsUpdater
}

func NewRecorder(results ResultWriter, stats StatsUpdater) *Recorder {
	return &Recorder{results: results, stats: stats}
}

// Record saves result for userID. A failed stats refresh is logged and does
// not fail the save; the next save recomputes from scratch anyway.
func (r *Recorder) Record(ctx context.Context, userID string, result typingtest.Result) (*models.TestResult, *models.UserStats, error) {
	return r.Save(ctx, NewTestResult(userID, result))
}

// Save is Record for a result already in its persisted shape.
func (r *Recorder) Save(ctx context.Context, result models.TestResult) (*models.TestResult, *models.UserStats, error) {
	saved, err := r.results.SaveTestResult(ctx, result)
	if err != nil {
		return nil, nil, err
	}
	stats, err := r.stats.Recompute(ctx, saved.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", saved.UserID).Msg("failed to refresh user stats")
		return saved, nil, nil
	}
	return saved, stats, nil
}

// Refresh recomputes userID's stats after a race finish, which changes the
// race totals without saving a test result. Failures are logged.
func (r *Recorder) Refresh(ctx context.Context, userID string) *models.UserStats {
	stats, err := r.stats.Recompute(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to refresh user stats")
		return nil
	}
	return stats
}

// NewTestResult maps an engine result onto the persisted shape.
func NewTestResult(userID string, r typingtest.Result) models.TestResult {
	return models.TestResult{
		UserID:       userID,
		Mode:         models.RaceMode(r.Mode),
		Duration:     r.Duration,
		WPM:          r.WPM,
		RawWPM:       r.RawWPM,
		Accuracy:     r.Accuracy,
		Consistency:  r.Consistency,
		RawChars:     r.RawChars,
		CorrectChars: r.CorrectChars,
		Errors:       r.Errors,
		ChartData: lo.Map(r.ChartData, func(p typingtest.ChartPoint, _ int) models.ChartSample {
			return models.ChartSample(p)
		}),
	}
}
