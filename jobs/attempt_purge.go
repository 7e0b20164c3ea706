package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pulsedash/pulsedash/internal/jobs"
	"github.com/pulsedash/pulsedash/internal/loginguard"
)

// attemptRetention is how long failed-login rows are kept beyond the lockout
// window, for operator forensics.
const attemptRetention = 30 * 24 * time.Hour

// AttemptPurgeJob drops login attempts that aged past the retention horizon.
type AttemptPurgeJob struct {
	Guard   *loginguard.Guard
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAttemptPurgeJob initialises the purge handler.
func NewAttemptPurgeJob(guard *loginguard.Guard, logger *slog.Logger, metrics *jobmetrics.Metrics) *AttemptPurgeJob {
	return &AttemptPurgeJob{Guard: guard, Logger: logger, Metrics: metrics}
}

// Handle executes the purge.
func (j *AttemptPurgeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Guard == nil {
		return errors.New("attempt purge: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAttemptPurge)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	purged, err := j.Guard.Purge(ctx, attemptRetention)
	if err != nil {
		j.logger().Error("purge failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("purge completed", slog.Int64("purged", purged))
	return nil
}

func (j *AttemptPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AttemptPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAttemptPurge))
	}
	return slog.Default().With(slog.String("job", TaskAttemptPurge))
}
