package sites

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Budget alert thresholds in percent of budget consumed.
const (
	budgetWarningPct  = 80
	budgetExceededPct = 100
)

// Service exposes site lookups and the bypass credential policy.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetSite loads a site by id.
func (s *Service) GetSite(ctx context.Context, id int64) (ConstructionSite, error) {
	return s.repo.GetSite(ctx, id)
}

// VerifyBypassPassword checks the supplied password against the site's
// bypass credential and its expiry. The expiry is inclusive: the credential
// remains valid through the end of the expiry day.
func (s *Service) VerifyBypassPassword(site ConstructionSite, password string) error {
	if site.SpecialAccessHash == "" || password == "" {
		return ErrBypassPasswordMismatch
	}
	if site.SpecialAccessExpiry != nil {
		expiry := endOfDay(*site.SpecialAccessExpiry)
		if s.now().After(expiry) {
			return ErrBypassExpired
		}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(site.SpecialAccessHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrBypassPasswordMismatch
		}
		return err
	}
	return nil
}

// SetBypassPassword hashes and stores a new bypass credential for the site.
func (s *Service) SetBypassPassword(ctx context.Context, siteID int64, password string, expiry *time.Time) error {
	if password == "" {
		return errors.New("sites: bypass password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.SetBypassCredential(ctx, siteID, string(hash), expiry)
}

// BudgetStatus computes approved spend against the site budget and the
// resulting alert level. Sites without a budget never alert.
func (s *Service) BudgetStatus(ctx context.Context, siteID int64) (BudgetStatus, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return BudgetStatus{}, err
	}
	approved, err := s.repo.ApprovedInvoiceTotal(ctx, siteID)
	if err != nil {
		return BudgetStatus{}, err
	}
	status := BudgetStatus{SiteID: siteID, Budget: site.Budget, ApprovedTotal: approved}
	if site.Budget <= 0 {
		return status, nil
	}
	pct := approved * 100 / site.Budget
	switch {
	case pct >= budgetExceededPct:
		status.Level = BudgetAlertExceeded
	case pct >= budgetWarningPct:
		status.Level = BudgetAlertWarning
	}
	return status, nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
