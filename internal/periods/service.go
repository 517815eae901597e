package periods

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Service enforces the time-window policy and manages monthly closing.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CheckSubmission gates partner submissions: the invoice month must be the
// current month or a still-open prior month, and today must fall inside the
// submission window. Future months are never accepted.
func (s *Service) CheckSubmission(ctx context.Context, companyID int64, invoiceDate time.Time) error {
	today := s.now()
	if !InWindow(today.Day()) {
		return ErrOutsideWindow
	}
	return s.checkMonthOpen(ctx, companyID, invoiceDate, today)
}

func (s *Service) checkMonthOpen(ctx context.Context, companyID int64, invoiceDate, today time.Time) error {
	invMonth := monthStart(invoiceDate)
	curMonth := monthStart(today)
	if invMonth.Equal(curMonth) {
		return nil
	}
	if invMonth.After(curMonth) {
		return ErrPeriodClosed
	}
	period, err := s.repo.GetPeriod(ctx, companyID, invoiceDate.Year(), int(invoiceDate.Month()))
	if err != nil {
		return err
	}
	if period != nil && period.IsClosed {
		return ErrPeriodClosed
	}
	return nil
}

// CloseElapsed closes every prior-month period still open, fanning out per
// company. Runs from the worker cron; safe to repeat.
func (s *Service) CloseElapsed(ctx context.Context) error {
	now := s.now()
	companies, err := s.repo.ListCompaniesWithOpenPeriods(ctx, now)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, companyID := range companies {
		g.Go(func() error {
			closed, err := s.repo.CloseElapsedForCompany(ctx, companyID, now, now)
			if err != nil {
				return err
			}
			if closed > 0 && s.logger != nil {
				s.logger.Info("closed elapsed billing periods",
					slog.Int64("company_id", companyID), slog.Int64("count", closed))
			}
			return nil
		})
	}
	return g.Wait()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
