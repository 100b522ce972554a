package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-auth/internal/jobs"
)

// TaskSessionCompact deletes expired session rows.
const TaskSessionCompact = "session:compact"

// SessionCompactor removes expired sessions and reports how many went.
type SessionCompactor interface {
	Compact(ctx context.Context) (int64, error)
}

// SessionCompactJob runs the periodic session cleanup. Expiry is enforced
// at read time, so the job only reclaims storage.
type SessionCompactJob struct {
	Sessions SessionCompactor
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewSessionCompactJob initialises the compaction handler.
func NewSessionCompactJob(sessions SessionCompactor, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionCompactJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCompactJob{Sessions: sessions, Logger: logger, Metrics: metrics}
}

// NewSessionCompactTask builds the cron task.
func NewSessionCompactTask() *asynq.Task {
	return asynq.NewTask(TaskSessionCompact, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// Handle executes one compaction pass.
func (j *SessionCompactJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Sessions == nil {
		return errors.New("session compact: handler not configured")
	}
	tracker := j.Metrics.Track(TaskSessionCompact)
	defer func() { err = tracker.End(err) }()

	n, err := j.Sessions.Compact(ctx)
	if err != nil {
		j.Logger.Error("session compaction failed", slog.String("job", TaskSessionCompact), slog.Any("error", err))
		return err
	}
	j.Metrics.AddCompacted(n)
	j.Logger.Info("session compaction executed", slog.String("job", TaskSessionCompact), slog.Int64("deleted", n))
	return nil
}
