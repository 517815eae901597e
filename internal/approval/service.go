package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/genbaflow/genbaflow/internal/directory"
	"github.com/genbaflow/genbaflow/internal/notify"
	"github.com/genbaflow/genbaflow/internal/periods"
	"github.com/genbaflow/genbaflow/internal/shared"
	"github.com/genbaflow/genbaflow/internal/sites"
)

// DirectoryPort is the user-directory surface the engine consumes.
type DirectoryPort interface {
	GetUser(ctx context.Context, id int64) (directory.User, error)
	FindApprover(ctx context.Context, position directory.Position, companyID int64) (*directory.User, error)
}

// SitePort is the construction-site surface the engine consumes.
type SitePort interface {
	GetSite(ctx context.Context, id int64) (sites.ConstructionSite, error)
	VerifyBypassPassword(site sites.ConstructionSite, password string) error
	BudgetStatus(ctx context.Context, siteID int64) (sites.BudgetStatus, error)
}

// PeriodPort gates submissions on the monthly window policy.
type PeriodPort interface {
	CheckSubmission(ctx context.Context, companyID int64, invoiceDate time.Time) error
}

// Notifier delivers fire-and-forget notifications after commit.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request)
}

// AuditPort appends one audit row per mutating transition.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TransitionRecorder counts transition attempts for observability.
type TransitionRecorder interface {
	RecordTransition(action, outcome string)
}

// Service is the approval state machine. Every transition runs as one
// transaction over the locked invoice row; notifications and audit rows
// follow the commit and can never unwind it.
type Service struct {
	repo     Repository
	dir      DirectoryPort
	sites    SitePort
	periods  PeriodPort
	notifier Notifier
	audit    AuditPort
	metrics  TransitionRecorder
	logger   *slog.Logger
}

// NewService wires the engine. audit and metrics may be nil.
func NewService(repo Repository, dir DirectoryPort, sitePort SitePort, periodPort PeriodPort, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		sites:    sitePort,
		periods:  periodPort,
		notifier: notifier,
		logger:   logger,
	}
}

// WithAudit attaches the audit logger.
func (s *Service) WithAudit(audit AuditPort) *Service {
	s.audit = audit
	return s
}

// WithMetrics attaches the transition counter.
func (s *Service) WithMetrics(rec TransitionRecorder) *Service {
	s.metrics = rec
	return s
}

// Submit gates the invoice against the site and period policy, builds the
// route, and moves the invoice into the submitted holding state. A validated
// bypass (site password or super-admin) fast-tracks straight into
// pending_approval with the first step's approver assigned.
func (s *Service) Submit(ctx context.Context, invoiceID, actorID int64, specialPassword string) (Invoice, error) {
	actor, err := s.getActor(ctx, actorID)
	if err != nil {
		return Invoice{}, s.fail("submit", err)
	}

	var bypass bool
	var firstApprover *directory.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft && inv.Status != StatusRejected {
			return errInvalidState("cannot submit invoice in status %s", inv.Status)
		}
		if actor.IsPartner() {
			submitter, err := s.dir.GetUser(ctx, inv.SubmitterID)
			if err != nil {
				return err
			}
			if actor.CompanyID != submitter.CompanyID {
				return errPermissionDenied("partners may only submit their own company's invoices")
			}
		}

		site, err := s.sites.GetSite(ctx, inv.SiteID)
		if err != nil {
			return err
		}
		if site.IsCutoff {
			return errValidation(CodeSiteCutoff, "site %s is cut off for new invoices", site.Name)
		}
		if site.IsCompleted {
			return errValidation(CodeSiteCompleted, "site %s is completed", site.Name)
		}
		if site.SupervisorID == nil {
			return errValidation(CodeSupervisorMissing, "site %s has no assigned supervisor", site.Name)
		}

		bypass, err = s.checkSubmissionGate(ctx, actor, site, inv, specialPassword)
		if err != nil {
			return err
		}

		routeID, err := tx.CreateRoute(ctx, Route{
			InvoiceID: inv.ID,
			CompanyID: inv.CompanyID,
			Name:      fmt.Sprintf("Invoice %s approval route", inv.Number),
		})
		if err != nil {
			return err
		}
		steps, err := buildSteps(ctx, routeID, inv.CompanyID, *site.SupervisorID, s.dir.FindApprover)
		if err != nil {
			return err
		}
		for i := range steps {
			id, err := tx.InsertStep(ctx, steps[i])
			if err != nil {
				return err
			}
			steps[i].ID = id
		}

		deadline := periods.CorrectionDeadline(inv.ReceivedAt)
		upd := StateUpdate{
			InvoiceID:          inv.ID,
			FromStatus:         inv.Status,
			Status:             StatusSubmitted,
			RouteID:            &routeID,
			CorrectionDeadline: &deadline,
		}
		if bypass {
			approver, err := s.resolveStepApprover(ctx, steps[0], inv.CompanyID)
			if err != nil {
				return err
			}
			if approver == nil {
				return errNoApprover(string(steps[0].Position))
			}
			firstApprover = approver
			upd.Status = StatusPendingApproval
			upd.StepID = &steps[0].ID
			upd.ApproverID = &approver.ID
			upd.ViaBypass = true
		}
		if err := tx.UpdateInvoiceState(ctx, upd); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, History{
			InvoiceID: inv.ID,
			ActorID:   actor.ID,
			Action:    HistorySubmitted,
		})
	})
	if err != nil {
		return Invoice{}, s.fail("submit", err)
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, s.fail("submit", err)
	}
	s.recordAudit(ctx, actor.ID, "invoice.submit", inv.ID, map[string]any{"via_bypass": bypass})
	s.record("submit", "ok")
	if bypass && firstApprover != nil {
		s.notifier.Notify(ctx, notify.Request{
			Recipient: firstApprover.Email,
			Subject:   fmt.Sprintf("Invoice %s awaiting your approval", inv.Number),
			Body:      fmt.Sprintf("Invoice %s (%s) was submitted and needs your review.", inv.Number, notify.FormatYen(inv.TotalAmount)),
		})
	}
	return inv, nil
}

// OpenForApproval moves a submitted invoice into pending_approval at step 1.
// This is the batch-open transition run by internal operators.
func (s *Service) OpenForApproval(ctx context.Context, invoiceID, actorID int64) (Invoice, error) {
	actor, err := s.getActor(ctx, actorID)
	if err != nil {
		return Invoice{}, s.fail("open", err)
	}
	if actor.IsPartner() {
		return Invoice{}, s.fail("open", errPermissionDenied("partner accounts cannot open invoices for approval"))
	}

	var approver *directory.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusSubmitted {
			return errInvalidState("cannot open invoice in status %s", inv.Status)
		}
		if inv.RouteID == nil {
			return errInvalidState("invoice %d has no approval route", inv.ID)
		}
		first, err := tx.GetStepByOrder(ctx, *inv.RouteID, 1)
		if err != nil {
			return err
		}
		if first == nil {
			return errInvalidState("route %d has no first step", *inv.RouteID)
		}
		approver, err = s.resolveStepApprover(ctx, *first, inv.CompanyID)
		if err != nil {
			return err
		}
		if approver == nil {
			return errNoApprover(string(first.Position))
		}
		return tx.UpdateInvoiceState(ctx, StateUpdate{
			InvoiceID:  inv.ID,
			FromStatus: inv.Status,
			Status:     StatusPendingApproval,
			RouteID:    inv.RouteID,
			StepID:     &first.ID,
			ApproverID: &approver.ID,
			ViaBypass:  inv.ViaBypass,
		})
	})
	if err != nil {
		return Invoice{}, s.fail("open", err)
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, s.fail("open", err)
	}
	s.recordAudit(ctx, actor.ID, "invoice.open", inv.ID, nil)
	s.record("open", "ok")
	s.notifier.Notify(ctx, notify.Request{
		Recipient: approver.Email,
		Subject:   fmt.Sprintf("Invoice %s awaiting your approval", inv.Number),
		Body:      fmt.Sprintf("Invoice %s (%s) is ready for your review.", inv.Number, notify.FormatYen(inv.TotalAmount)),
	})
	return inv, nil
}

// Approve records the actor's approval on the current step and advances the
// route, or finalizes the invoice when the last step approves. A failed
// next-approver lookup aborts the whole transition so it can be retried once
// staffing is fixed.
func (s *Service) Approve(ctx context.Context, invoiceID, actorID int64, comment string) (Invoice, error) {
	actor, err := s.getActor(ctx, actorID)
	if err != nil {
		return Invoice{}, s.fail("approve", err)
	}

	var (
		nextApprover *directory.User
		finalized    bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusPendingApproval {
			return errInvalidState("cannot approve invoice in status %s", inv.Status)
		}
		approved, err := tx.HasApprovedBefore(ctx, inv.ID, actor.ID)
		if err != nil {
			return err
		}
		if approved {
			return errDuplicateApproval(actor.ID)
		}

		site, err := s.sites.GetSite(ctx, inv.SiteID)
		if err != nil {
			return err
		}
		supervisorID := int64(0)
		if site.SupervisorID != nil {
			supervisorID = *site.SupervisorID
		}

		step, err := s.currentStep(ctx, tx, inv, actor, supervisorID)
		if err != nil {
			return err
		}
		if err := CheckEligibility(actor, step, supervisorID); err != nil {
			return err
		}

		if err := tx.AppendHistory(ctx, History{
			InvoiceID: inv.ID,
			ActorID:   actor.ID,
			Action:    HistoryApproved,
			StepID:    &step.ID,
			Comment:   comment,
		}); err != nil {
			return err
		}

		next, err := tx.GetStepByOrder(ctx, step.RouteID, step.StepOrder+1)
		if err != nil {
			return err
		}
		if next == nil {
			finalized = true
			return tx.UpdateInvoiceState(ctx, StateUpdate{
				InvoiceID:  inv.ID,
				FromStatus: inv.Status,
				Status:     StatusApproved,
				RouteID:    inv.RouteID,
				ViaBypass:  inv.ViaBypass,
			})
		}
		nextApprover, err = s.resolveStepApprover(ctx, *next, inv.CompanyID)
		if err != nil {
			return err
		}
		if nextApprover == nil {
			return errNoApprover(string(next.Position))
		}
		return tx.UpdateInvoiceState(ctx, StateUpdate{
			InvoiceID:  inv.ID,
			FromStatus: inv.Status,
			Status:     StatusPendingApproval,
			RouteID:    inv.RouteID,
			StepID:     &next.ID,
			ApproverID: &nextApprover.ID,
			ViaBypass:  inv.ViaBypass,
		})
	})
	if err != nil {
		return Invoice{}, s.fail("approve", err)
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, s.fail("approve", err)
	}
	s.recordAudit(ctx, actor.ID, "invoice.approve", inv.ID, map[string]any{"finalized": finalized})
	s.record("approve", "ok")
	if finalized {
		s.notifyCompletion(ctx, inv)
	} else if nextApprover != nil {
		s.notifier.Notify(ctx, notify.Request{
			Recipient: nextApprover.Email,
			Subject:   fmt.Sprintf("Invoice %s awaiting your approval", inv.Number),
			Body:      fmt.Sprintf("Invoice %s (%s) has advanced to your step.", inv.Number, notify.FormatYen(inv.TotalAmount)),
		})
	}
	return inv, nil
}

// Reject terminates the flow. Only the exact current approver may reject;
// position-based eligibility does not apply here.
func (s *Service) Reject(ctx context.Context, invoiceID, actorID int64, comment string) (Invoice, error) {
	return s.finalizeByCurrentApprover(ctx, "reject", invoiceID, actorID, comment, StatusRejected, HistoryRejected)
}

// Return sends the invoice back to the submitter for correction. The comment
// is mandatory so the submitter knows what to fix.
func (s *Service) Return(ctx context.Context, invoiceID, actorID int64, comment string) (Invoice, error) {
	if comment == "" {
		return Invoice{}, s.fail("return", errValidation(CodeCommentRequired, "return requires a comment"))
	}
	return s.finalizeByCurrentApprover(ctx, "return", invoiceID, actorID, comment, StatusReturned, HistoryReturned)
}

func (s *Service) finalizeByCurrentApprover(ctx context.Context, action string, invoiceID, actorID int64, comment string, to Status, hist HistoryAction) (Invoice, error) {
	actor, err := s.getActor(ctx, actorID)
	if err != nil {
		return Invoice{}, s.fail(action, err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusPendingApproval {
			return errInvalidState("cannot %s invoice in status %s", action, inv.Status)
		}
		if inv.CurrentApproverID == nil || *inv.CurrentApproverID != actor.ID {
			return errPermissionDenied("only the current approver may %s this invoice", action)
		}
		if err := tx.AppendHistory(ctx, History{
			InvoiceID: inv.ID,
			ActorID:   actor.ID,
			Action:    hist,
			StepID:    inv.CurrentStepID,
			Comment:   comment,
		}); err != nil {
			return err
		}
		return tx.UpdateInvoiceState(ctx, StateUpdate{
			InvoiceID:  inv.ID,
			FromStatus: inv.Status,
			Status:     to,
			RouteID:    inv.RouteID,
			ViaBypass:  inv.ViaBypass,
		})
	})
	if err != nil {
		return Invoice{}, s.fail(action, err)
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, s.fail(action, err)
	}
	s.recordAudit(ctx, actor.ID, "invoice."+action, inv.ID, map[string]any{"comment": comment})
	s.record(action, "ok")
	s.notifySubmitter(ctx, inv, fmt.Sprintf("Invoice %s was %s", inv.Number, to),
		fmt.Sprintf("Invoice %s (%s) was %s. Comment: %s", inv.Number, notify.FormatYen(inv.TotalAmount), to, comment))
	return inv, nil
}

// Acknowledge lets a partner of the submitting company accept a returned
// invoice after correction. The flow resumes at the accounting step rather
// than restarting the whole chain.
func (s *Service) Acknowledge(ctx context.Context, invoiceID, actorID int64) (Invoice, error) {
	actor, err := s.getActor(ctx, actorID)
	if err != nil {
		return Invoice{}, s.fail("acknowledge", err)
	}

	var approver *directory.User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusReturned {
			return errInvalidState("cannot acknowledge invoice in status %s", inv.Status)
		}
		submitter, err := s.dir.GetUser(ctx, inv.SubmitterID)
		if err != nil {
			return err
		}
		if !actor.IsPartner() || actor.CompanyID != submitter.CompanyID {
			return errPermissionDenied("only a partner of the submitting company may acknowledge")
		}
		if inv.RouteID == nil {
			return errInvalidState("invoice %d has no approval route", inv.ID)
		}
		step, err := tx.FindStepByPosition(ctx, *inv.RouteID, directory.PositionAccountant)
		if err != nil {
			return err
		}
		if step == nil {
			return errInvalidState("route %d has no accounting step", *inv.RouteID)
		}
		approver, err = s.resolveStepApprover(ctx, *step, inv.CompanyID)
		if err != nil {
			return err
		}
		if approver == nil {
			return errNoApprover(string(step.Position))
		}
		return tx.UpdateInvoiceState(ctx, StateUpdate{
			InvoiceID:  inv.ID,
			FromStatus: inv.Status,
			Status:     StatusPendingApproval,
			RouteID:    inv.RouteID,
			StepID:     &step.ID,
			ApproverID: &approver.ID,
			ViaBypass:  inv.ViaBypass,
		})
	})
	if err != nil {
		return Invoice{}, s.fail("acknowledge", err)
	}

	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, s.fail("acknowledge", err)
	}
	s.recordAudit(ctx, actor.ID, "invoice.acknowledge", inv.ID, nil)
	s.record("acknowledge", "ok")
	s.notifier.Notify(ctx, notify.Request{
		Recipient: approver.Email,
		Subject:   fmt.Sprintf("Invoice %s resubmitted for accounting review", inv.Number),
		Body:      fmt.Sprintf("Invoice %s (%s) was corrected and needs accounting review.", inv.Number, notify.FormatYen(inv.TotalAmount)),
	})
	return inv, nil
}

// BulkApprove applies Approve independently per invoice. Items commit or
// fail alone; the batch is never atomic.
func (s *Service) BulkApprove(ctx context.Context, invoiceIDs []int64, actorID int64, comment string) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		_, err := s.Approve(ctx, id, actorID, comment)
		results = append(results, batchResult(id, err))
	}
	return results
}

// BatchReject applies Reject independently per invoice.
func (s *Service) BatchReject(ctx context.Context, invoiceIDs []int64, actorID int64, comment string) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(invoiceIDs))
	for _, id := range invoiceIDs {
		_, err := s.Reject(ctx, id, actorID, comment)
		results = append(results, batchResult(id, err))
	}
	return results
}

// GetInvoiceDetail loads the invoice with its route steps and history.
func (s *Service) GetInvoiceDetail(ctx context.Context, invoiceID int64) (InvoiceDetail, error) {
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return InvoiceDetail{}, translateErr(err)
	}
	detail := InvoiceDetail{Invoice: inv}
	if inv.RouteID != nil {
		detail.Steps, err = s.repo.ListSteps(ctx, *inv.RouteID)
		if err != nil {
			return InvoiceDetail{}, err
		}
	}
	detail.History, err = s.repo.ListHistory(ctx, invoiceID)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return detail, nil
}

// ListHistory returns the append-only approval trail of an invoice.
func (s *Service) ListHistory(ctx context.Context, invoiceID int64) ([]History, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, translateErr(err)
	}
	return s.repo.ListHistory(ctx, invoiceID)
}

// checkSubmissionGate applies the period policy and decides whether the
// submission proceeds as a bypass. Super-admins bypass unconditionally. A
// supplied site password is always verified; a valid one bypasses even when
// the window check would have passed.
func (s *Service) checkSubmissionGate(ctx context.Context, actor directory.User, site sites.ConstructionSite, inv Invoice, specialPassword string) (bool, error) {
	if actor.IsSuperAdmin() {
		return true, nil
	}
	if specialPassword != "" {
		switch err := s.sites.VerifyBypassPassword(site, specialPassword); {
		case err == nil:
			return true, nil
		case errors.Is(err, sites.ErrBypassExpired):
			return false, errValidation(CodeBypassExpired, "site bypass password expired")
		case errors.Is(err, sites.ErrBypassPasswordMismatch):
			return false, errValidation(CodeInvalidBypassPassword, "invalid site bypass password")
		default:
			return false, err
		}
	}
	switch err := s.periods.CheckSubmission(ctx, inv.CompanyID, inv.ReceivedAt); {
	case err == nil:
		return false, nil
	case errors.Is(err, periods.ErrOutsideWindow):
		return false, errValidation(CodeOutsideSubmissionPeriod, "submissions are accepted from the %dth through the %dth", periods.WindowOpenDay, periods.WindowCloseDay)
	case errors.Is(err, periods.ErrPeriodClosed):
		return false, errValidation(CodePeriodClosed, "billing month is closed for this company")
	default:
		return false, err
	}
}

// currentStep resolves the step the invoice is waiting on. When the step
// reference drifted away but an approver is still set, the step is recovered
// from the route by the actor's position.
func (s *Service) currentStep(ctx context.Context, tx TxRepository, inv Invoice, actor directory.User, supervisorID int64) (Step, error) {
	if inv.CurrentStepID != nil {
		return tx.GetStep(ctx, *inv.CurrentStepID)
	}
	if inv.CurrentApproverID == nil || inv.RouteID == nil {
		return Step{}, errInvalidState("invoice %d has no current approval step", inv.ID)
	}
	position := actor.Position
	if supervisorID != 0 && actor.ID == supervisorID {
		position = directory.PositionSiteSupervisor
	}
	step, err := tx.FindStepByPosition(ctx, *inv.RouteID, position)
	if err != nil {
		return Step{}, err
	}
	if step == nil {
		return Step{}, errInvalidState("no route step matches position %s", position)
	}
	return *step, nil
}

// resolveStepApprover returns the user who must act on the step: the pinned
// user when present, otherwise the current holder of the step's position.
func (s *Service) resolveStepApprover(ctx context.Context, step Step, companyID int64) (*directory.User, error) {
	if step.Pinned() {
		u, err := s.dir.GetUser(ctx, *step.ApproverUserID)
		if err != nil {
			return nil, err
		}
		return &u, nil
	}
	return s.dir.FindApprover(ctx, step.Position, companyID)
}

func (s *Service) notifyCompletion(ctx context.Context, inv Invoice) {
	s.notifySubmitter(ctx, inv, fmt.Sprintf("Invoice %s fully approved", inv.Number),
		fmt.Sprintf("Invoice %s (%s) completed the approval route.", inv.Number, notify.FormatYen(inv.TotalAmount)))

	status, err := s.sites.BudgetStatus(ctx, inv.SiteID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("budget status check", slog.Int64("site_id", inv.SiteID), slog.Any("error", err))
		}
		return
	}
	if status.Level == sites.BudgetAlertNone {
		return
	}
	site, err := s.sites.GetSite(ctx, inv.SiteID)
	if err != nil || site.SupervisorID == nil {
		return
	}
	supervisor, err := s.dir.GetUser(ctx, *site.SupervisorID)
	if err != nil {
		return
	}
	s.notifier.Notify(ctx, notify.Request{
		Recipient: supervisor.Email,
		Subject:   fmt.Sprintf("Budget alert for site %s", site.Name),
		Body: fmt.Sprintf("Approved invoices total %s against a budget of %s (%s).",
			notify.FormatYen(status.ApprovedTotal), notify.FormatYen(status.Budget), status.Level),
	})
}

func (s *Service) notifySubmitter(ctx context.Context, inv Invoice, subject, body string) {
	submitter, err := s.dir.GetUser(ctx, inv.SubmitterID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("submitter lookup for notification", slog.Int64("user_id", inv.SubmitterID), slog.Any("error", err))
		}
		return
	}
	s.notifier.Notify(ctx, notify.Request{Recipient: submitter.Email, Subject: subject, Body: body})
}

func (s *Service) getActor(ctx context.Context, actorID int64) (directory.User, error) {
	actor, err := s.dir.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return directory.User{}, errNotFound("acting user %d not found", actorID)
		}
		return directory.User{}, err
	}
	return actor, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(invoiceID, 10),
		Meta:     meta,
	}); err != nil && s.logger != nil {
		s.logger.Warn("audit append", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) record(action, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(action, outcome)
	}
}

func (s *Service) fail(action string, err error) error {
	err = translateErr(err)
	if e, ok := AsError(err); ok {
		s.record(action, string(e.Kind))
	} else {
		s.record(action, "error")
	}
	return err
}

// translateErr maps collaborator sentinels into the approval taxonomy so the
// handler sees a single error shape.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleInvoice):
		return errInvalidState("invoice state changed concurrently, retry")
	case errors.Is(err, directory.ErrUserNotFound):
		return errNotFound("user not found")
	case errors.Is(err, sites.ErrSiteNotFound):
		return errNotFound("construction site not found")
	default:
		return err
	}
}

func batchResult(invoiceID int64, err error) BatchItemResult {
	if err == nil {
		return BatchItemResult{InvoiceID: invoiceID, OK: true}
	}
	if e, ok := AsError(err); ok {
		return BatchItemResult{InvoiceID: invoiceID, Kind: e.Kind, Code: e.Code, Message: e.Message}
	}
	return BatchItemResult{InvoiceID: invoiceID, Message: err.Error()}
}
