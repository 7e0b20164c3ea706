package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pulsedash/pulsedash/internal/jobs"
	"github.com/pulsedash/pulsedash/internal/session"
)

// SessionSweepJob deletes refresh sessions that expired. Expired rows are
// already unusable; the sweep only keeps the table from growing without
// bound.
type SessionSweepJob struct {
	Sessions session.Repository
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewSessionSweepJob initialises the sweep handler.
func NewSessionSweepJob(sessions session.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Sessions: sessions, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sessions == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSessionSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	deleted, err := j.Sessions.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		j.logger().Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("sweep completed", slog.Int64("deleted", deleted))
	return nil
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionSweep))
	}
	return slog.Default().With(slog.String("job", TaskSessionSweep))
}
