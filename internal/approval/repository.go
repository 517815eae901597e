package approval

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/genbaflow/genbaflow/internal/directory"
	"github.com/genbaflow/genbaflow/internal/platform/db"
)

// ErrStaleInvoice reports a compare-and-swap miss: the invoice moved between
// our read and our write. The transition must be retried from scratch.
var ErrStaleInvoice = errors.New("approval: invoice state changed concurrently")

// StateUpdate carries one atomic invoice state write. FromStatus is the CAS
// guard; the write only lands when the row still holds it. A nil
// CorrectionDeadline leaves the stored deadline untouched.
type StateUpdate struct {
	InvoiceID          int64
	FromStatus         Status
	Status             Status
	RouteID            *int64
	StepID             *int64
	ApproverID         *int64
	CorrectionDeadline *time.Time
	ViaBypass          bool
}

// Repository defines approval data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListSteps(ctx context.Context, routeID int64) ([]Step, error)
	ListHistory(ctx context.Context, invoiceID int64) ([]History, error)
}

// TxRepository defines operations within a transition transaction.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	CreateRoute(ctx context.Context, route Route) (int64, error)
	InsertStep(ctx context.Context, step Step) (int64, error)
	GetStep(ctx context.Context, stepID int64) (Step, error)
	GetStepByOrder(ctx context.Context, routeID int64, order int) (*Step, error)
	FindStepByPosition(ctx context.Context, routeID int64, position directory.Position) (*Step, error)
	HasApprovedBefore(ctx context.Context, invoiceID, actorID int64) (bool, error)
	UpdateInvoiceState(ctx context.Context, upd StateUpdate) error
	AppendHistory(ctx context.Context, h History) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
	return mapConcurrencyErr(err)
}

// mapConcurrencyErr folds serialization aborts into ErrStaleInvoice. Under
// repeatable read the loser of two concurrent transitions fails with SQLSTATE
// 40001 (or 40P01 on deadlock) before its guarded update ever runs, so the
// abort must surface the same way as a CAS miss.
func mapConcurrencyErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return ErrStaleInvoice
	}
	return err
}

const invoiceColumns = `id, number, total_amount, status, approval_route_id, current_step_id,
	current_approver_id, submitter_id, company_id, site_id, received_at,
	correction_deadline, via_bypass, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.TotalAmount, &inv.Status, &inv.RouteID,
		&inv.CurrentStepID, &inv.CurrentApproverID, &inv.SubmitterID, &inv.CompanyID,
		&inv.SiteID, &inv.ReceivedAt, &inv.CorrectionDeadline, &inv.ViaBypass,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, errNotFound("invoice not found")
	}
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (r *pgRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

func (r *pgRepository) ListSteps(ctx context.Context, routeID int64) ([]Step, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, route_id, step_order, label, approver_position, approver_user_id
		FROM approval_steps WHERE route_id = $1 ORDER BY step_order`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.RouteID, &s.StepOrder, &s.Label, &s.Position, &s.ApproverUserID); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *pgRepository) ListHistory(ctx context.Context, invoiceID int64) ([]History, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, actor_id, action, step_id, comment, created_at
		FROM approval_history WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.InvoiceID, &h.ActorID, &h.Action, &h.StepID, &h.Comment, &h.At); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	return scanInvoice(row)
}

func (r *pgTxRepository) CreateRoute(ctx context.Context, route Route) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO approval_routes (invoice_id, company_id, name, created_at)
		VALUES ($1, $2, $3, NOW()) RETURNING id`,
		route.InvoiceID, route.CompanyID, route.Name).Scan(&id)
	return id, err
}

func (r *pgTxRepository) InsertStep(ctx context.Context, step Step) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `
		INSERT INTO approval_steps (route_id, step_order, label, approver_position, approver_user_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		step.RouteID, step.StepOrder, step.Label, step.Position, step.ApproverUserID).Scan(&id)
	return id, err
}

func (r *pgTxRepository) GetStep(ctx context.Context, stepID int64) (Step, error) {
	var s Step
	err := r.tx.QueryRow(ctx, `
		SELECT id, route_id, step_order, label, approver_position, approver_user_id
		FROM approval_steps WHERE id = $1`, stepID).
		Scan(&s.ID, &s.RouteID, &s.StepOrder, &s.Label, &s.Position, &s.ApproverUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Step{}, errNotFound("approval step %d not found", stepID)
	}
	return s, err
}

func (r *pgTxRepository) GetStepByOrder(ctx context.Context, routeID int64, order int) (*Step, error) {
	var s Step
	err := r.tx.QueryRow(ctx, `
		SELECT id, route_id, step_order, label, approver_position, approver_user_id
		FROM approval_steps WHERE route_id = $1 AND step_order = $2`, routeID, order).
		Scan(&s.ID, &s.RouteID, &s.StepOrder, &s.Label, &s.Position, &s.ApproverUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgTxRepository) FindStepByPosition(ctx context.Context, routeID int64, position directory.Position) (*Step, error) {
	var s Step
	err := r.tx.QueryRow(ctx, `
		SELECT id, route_id, step_order, label, approver_position, approver_user_id
		FROM approval_steps WHERE route_id = $1 AND approver_position = $2
		ORDER BY step_order LIMIT 1`, routeID, position).
		Scan(&s.ID, &s.RouteID, &s.StepOrder, &s.Label, &s.Position, &s.ApproverUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgTxRepository) HasApprovedBefore(ctx context.Context, invoiceID, actorID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_history
			WHERE invoice_id = $1 AND actor_id = $2 AND action = 'approved'
		)`, invoiceID, actorID).Scan(&exists)
	return exists, err
}

// UpdateInvoiceState writes status, route and step/approver in one statement
// guarded by the expected current status. A miss returns ErrStaleInvoice.
func (r *pgTxRepository) UpdateInvoiceState(ctx context.Context, upd StateUpdate) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE invoices
		SET status = $1, approval_route_id = $2, current_step_id = $3,
			current_approver_id = $4, via_bypass = $5,
			correction_deadline = COALESCE($6, correction_deadline), updated_at = NOW()
		WHERE id = $7 AND status = $8`,
		upd.Status, upd.RouteID, upd.StepID, upd.ApproverID, upd.ViaBypass,
		upd.CorrectionDeadline, upd.InvoiceID, upd.FromStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleInvoice
	}
	return nil
}

func (r *pgTxRepository) AppendHistory(ctx context.Context, h History) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO approval_history (invoice_id, actor_id, action, step_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		h.InvoiceID, h.ActorID, h.Action, h.StepID, h.Comment)
	return err
}
