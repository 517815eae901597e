package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines monthly period data access.
type Repository interface {
	GetPeriod(ctx context.Context, companyID int64, year, month int) (*MonthlyInvoicePeriod, error)
	ClosePeriod(ctx context.Context, companyID int64, year, month int, closedAt time.Time) error
	ListCompaniesWithOpenPeriods(ctx context.Context, before time.Time) ([]int64, error)
	CloseElapsedForCompany(ctx context.Context, companyID int64, before time.Time, closedAt time.Time) (int64, error)
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetPeriod(ctx context.Context, companyID int64, year, month int) (*MonthlyInvoicePeriod, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, company_id, year, month, is_closed, closed_at, created_at
FROM monthly_invoice_periods WHERE company_id = $1 AND year = $2 AND month = $3`, companyID, year, month)

	var p MonthlyInvoicePeriod
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Year, &p.Month, &p.IsClosed, &p.ClosedAt, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ClosePeriod marks a month closed, creating the row when absent.
func (r *pgRepository) ClosePeriod(ctx context.Context, companyID int64, year, month int, closedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO monthly_invoice_periods (company_id, year, month, is_closed, closed_at)
VALUES ($1, $2, $3, TRUE, $4)
ON CONFLICT (company_id, year, month) DO UPDATE SET is_closed = TRUE, closed_at = EXCLUDED.closed_at`,
		companyID, year, month, closedAt)
	return err
}

func (r *pgRepository) ListCompaniesWithOpenPeriods(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM monthly_invoice_periods
WHERE NOT is_closed AND make_date(year, month, 1) < date_trunc('month', $1::timestamptz)`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgRepository) CloseElapsedForCompany(ctx context.Context, companyID int64, before time.Time, closedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE monthly_invoice_periods SET is_closed = TRUE, closed_at = $3
WHERE company_id = $1 AND NOT is_closed AND make_date(year, month, 1) < date_trunc('month', $2::timestamptz)`,
		companyID, before, closedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
