package sites

import (
	"errors"
	"time"
)

// ConstructionSite holds the fields the approval engine consumes. The wider
// site record (address, drawings, progress photos) lives outside this service.
type ConstructionSite struct {
	ID                  int64
	Name                string
	CompanyID           int64
	SupervisorID        *int64
	Budget              int64
	IsCutoff            bool
	IsCompleted         bool
	SpecialAccessHash   string
	SpecialAccessExpiry *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AcceptsInvoices reports whether new invoices may be raised against the site.
func (s ConstructionSite) AcceptsInvoices() bool {
	return !s.IsCutoff && !s.IsCompleted
}

// BudgetAlertLevel classifies how far approved spend has eaten the budget.
type BudgetAlertLevel string

const (
	BudgetAlertNone     BudgetAlertLevel = ""
	BudgetAlertWarning  BudgetAlertLevel = "warning"  // >= 80% consumed
	BudgetAlertExceeded BudgetAlertLevel = "exceeded" // >= 100% consumed
)

// BudgetStatus summarises approved spend against the site budget.
type BudgetStatus struct {
	SiteID        int64
	Budget        int64
	ApprovedTotal int64
	Level         BudgetAlertLevel
}

var (
	// ErrSiteNotFound indicates the site id does not resolve.
	ErrSiteNotFound = errors.New("sites: site not found")
	// ErrBypassPasswordMismatch indicates the supplied password is wrong or unset.
	ErrBypassPasswordMismatch = errors.New("sites: bypass password mismatch")
	// ErrBypassExpired indicates the credential is past its expiry date.
	ErrBypassExpired = errors.New("sites: bypass password expired")
)
