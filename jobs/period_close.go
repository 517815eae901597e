package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// PeriodCloser closes every prior-month billing period still open.
type PeriodCloser interface {
	CloseElapsed(ctx context.Context) error
}

// NewPeriodAutoCloseHandler builds the handler for TaskTypePeriodAutoClose.
// Asynq retries on error, so a transient store failure just runs again.
func NewPeriodAutoCloseHandler(closer PeriodCloser, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := closer.CloseElapsed(ctx); err != nil {
			if logger != nil {
				logger.Error("period auto-close", slog.Any("error", err))
			}
			return err
		}
		if logger != nil {
			logger.Info("period auto-close completed")
		}
		return nil
	}
}
