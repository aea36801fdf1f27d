package schedule

import (
	"context"
	"log/slog"

	"github.com/memohai/botsmith/internal/config"
	"github.com/memohai/botsmith/internal/credits"
)

// Job names.
const (
	JobDailyReset = "credits_daily_reset"
	JobReconcile  = "credits_reconcile"
)

// CreditMaintainer is the part of the credit gate the jobs drive.
type CreditMaintainer interface {
	ResetDaily(ctx context.Context) (int64, error)
	Reconcile(ctx context.Context) ([]credits.Drift, error)
}

// CreditJobs returns the daily usage reset and the ledger reconciliation.
func CreditJobs(log *slog.Logger, gate CreditMaintainer, cfg config.ScheduleConfig) []Job {
	if log == nil {
		log = slog.Default()
	}
	return []Job{
		{
			Name:    JobDailyReset,
			Pattern: cfg.DailyReset,
			Run: func(ctx context.Context) error {
				_, err := gate.ResetDaily(ctx)
				return err
			},
		},
		{
			Name:    JobReconcile,
			Pattern: cfg.Reconcile,
			Run: func(ctx context.Context) error {
				drift, err := gate.Reconcile(ctx)
				if err != nil {
					return err
				}
				if len(drift) > 0 {
					log.Warn("ledger reconciliation repaired balances", slog.Int("users", len(drift)))
				}
				return nil
			},
		},
	}
}
