package periods

import (
	"errors"
	"time"
)

// MonthlyInvoicePeriod records whether a billing month is closed for a company.
// A missing row means the month is open.
type MonthlyInvoicePeriod struct {
	ID        int64
	CompanyID int64
	Year      int
	Month     int
	IsClosed  bool
	ClosedAt  *time.Time
	CreatedAt time.Time
}

// Submission window: invoices may be submitted from the 15th through the
// 25th of each month, both inclusive.
const (
	WindowOpenDay  = 15
	WindowCloseDay = 25
)

// CorrectionWindow is how long after receipt an invoice may still be corrected.
const CorrectionWindow = 48 * time.Hour

var (
	// ErrOutsideWindow indicates today's day-of-month is outside [15,25].
	ErrOutsideWindow = errors.New("periods: outside submission window")
	// ErrPeriodClosed indicates the invoice month is closed for the company.
	ErrPeriodClosed = errors.New("periods: billing month closed")
)

// InWindow reports whether the day-of-month falls inside the submission window.
func InWindow(day int) bool {
	return day >= WindowOpenDay && day <= WindowCloseDay
}

// CorrectionDeadline derives the correction deadline from the receipt time.
func CorrectionDeadline(receivedAt time.Time) time.Time {
	return receivedAt.Add(CorrectionWindow)
}
