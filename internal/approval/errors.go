package approval

import (
	"errors"
	"fmt"
)

// Kind classifies transition failures for callers. Every failure leaves the
// invoice untouched; kinds tell the caller whether a retry can ever succeed.
type Kind string

const (
	KindInvalidState      Kind = "invalid_state"
	KindDuplicateApproval Kind = "duplicate_approval"
	KindPermissionDenied  Kind = "permission_denied"
	KindNoApprover        Kind = "no_approver_available"
	KindValidation        Kind = "validation_failed"
	KindNotFound          Kind = "not_found"
)

// Validation detail codes surfaced alongside KindValidation.
const (
	CodeOutsideSubmissionPeriod = "outside_submission_period"
	CodePeriodClosed            = "period_closed"
	CodeSiteCutoff              = "site_cutoff"
	CodeSiteCompleted           = "site_completed"
	CodeSupervisorMissing       = "supervisor_missing"
	CodeInvalidBypassPassword   = "invalid_bypass_password"
	CodeBypassExpired           = "bypass_expired"
	CodeCommentRequired         = "comment_required"
)

// Error is the structured failure returned from every transition.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("approval: %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("approval: %s: %s", e.Kind, e.Message)
}

// AsError unwraps err into an *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an approval Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

func errInvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func errDuplicateApproval(actorID int64) *Error {
	return &Error{Kind: KindDuplicateApproval, Message: fmt.Sprintf("user %d already approved this invoice", actorID)}
}

func errPermissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

func errNoApprover(position string) *Error {
	return &Error{Kind: KindNoApprover, Message: fmt.Sprintf("no active user holds position %s", position)}
}

func errValidation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}
