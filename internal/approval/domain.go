package approval

import (
	"time"

	"github.com/genbaflow/genbaflow/internal/directory"
)

// Status enumerates the invoice approval lifecycle.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusSubmitted       Status = "submitted"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusReturned        Status = "returned"
)

// Terminal reports whether the status ends the ordinary flow.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// HistoryAction enumerates approval history actions. The set is closed and
// append-only consumers depend on it staying that way.
type HistoryAction string

const (
	HistorySubmitted HistoryAction = "submitted"
	HistoryApproved  HistoryAction = "approved"
	HistoryRejected  HistoryAction = "rejected"
	HistoryReturned  HistoryAction = "returned"
)

// Invoice is the subject of approval. CurrentStepID is the single source of
// truth for routing position; CurrentApproverID is always derived from it in
// the same write, never set independently.
type Invoice struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"number"`
	TotalAmount        int64      `json:"total_amount"`
	Status             Status     `json:"status"`
	RouteID            *int64     `json:"approval_route_id"`
	CurrentStepID      *int64     `json:"current_step_id"`
	CurrentApproverID  *int64     `json:"current_approver_id"`
	SubmitterID        int64      `json:"submitter_id"`
	CompanyID          int64      `json:"company_id"`
	SiteID             int64      `json:"site_id"`
	ReceivedAt         time.Time  `json:"received_at"`
	CorrectionDeadline time.Time  `json:"correction_deadline"`
	ViaBypass          bool       `json:"via_bypass"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Route is an invoice-scoped ordered list of steps, built exactly once at
// submission and never shared with another invoice.
type Route struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice_id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Step is one stage of a route. Steps are immutable after creation and form
// a contiguous 1..N sequence within their route.
type Step struct {
	ID             int64              `json:"id"`
	RouteID        int64              `json:"route_id"`
	StepOrder      int                `json:"step_order"`
	Label          string             `json:"label"`
	Position       directory.Position `json:"approver_position"`
	ApproverUserID *int64             `json:"approver_user_id"`
}

// Pinned reports whether the step is frozen to a specific user.
func (s Step) Pinned() bool {
	return s.ApproverUserID != nil
}

// History is an append-only audit row. Rows are never mutated or deleted.
type History struct {
	ID        int64         `json:"id"`
	InvoiceID int64         `json:"invoice_id"`
	ActorID   int64         `json:"actor_id"`
	Action    HistoryAction `json:"action"`
	StepID    *int64        `json:"step_id"`
	Comment   string        `json:"comment"`
	At        time.Time     `json:"at"`
}

// InvoiceDetail bundles an invoice with its active route for read endpoints.
type InvoiceDetail struct {
	Invoice Invoice   `json:"invoice"`
	Steps   []Step    `json:"steps"`
	History []History `json:"history"`
}

// BatchItemResult reports the outcome of one invoice within a batch
// operation. Batches are never atomic: each item commits or fails alone.
type BatchItemResult struct {
	InvoiceID int64  `json:"invoice_id"`
	OK        bool   `json:"ok"`
	Kind      Kind   `json:"kind,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}
