package sites

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines site data access.
type Repository interface {
	GetSite(ctx context.Context, id int64) (ConstructionSite, error)
	ApprovedInvoiceTotal(ctx context.Context, siteID int64) (int64, error)
	SetBypassCredential(ctx context.Context, siteID int64, hash string, expiry *time.Time) error
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) GetSite(ctx context.Context, id int64) (ConstructionSite, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, company_id, supervisor_id, budget, is_cutoff, is_completed,
COALESCE(special_access_hash, ''), special_access_expiry, created_at, updated_at
FROM construction_sites WHERE id = $1`, id)

	var s ConstructionSite
	if err := row.Scan(&s.ID, &s.Name, &s.CompanyID, &s.SupervisorID, &s.Budget, &s.IsCutoff, &s.IsCompleted,
		&s.SpecialAccessHash, &s.SpecialAccessExpiry, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConstructionSite{}, ErrSiteNotFound
		}
		return ConstructionSite{}, err
	}
	return s, nil
}

func (r *pgRepository) ApprovedInvoiceTotal(ctx context.Context, siteID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_amount), 0) FROM invoices WHERE site_id = $1 AND status = 'approved'`,
		siteID).Scan(&total)
	return total, err
}

func (r *pgRepository) SetBypassCredential(ctx context.Context, siteID int64, hash string, expiry *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE construction_sites SET special_access_hash = $2, special_access_expiry = $3, updated_at = NOW() WHERE id = $1`,
		siteID, hash, expiry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSiteNotFound
	}
	return nil
}
