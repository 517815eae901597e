package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines directory data access.
type Repository interface {
	GetUser(ctx context.Context, id int64) (User, error)
	FindByPosition(ctx context.Context, position Position, companyID int64, activeOnly bool) ([]User, error)
}

var _ Repository = (*pgRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const userColumns = `id, name, email, user_type, position, company_id, is_active, is_primary_holder, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var userType, position string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &userType, &position, &u.CompanyID, &u.IsActive, &u.IsPrimaryHolder, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.UserType = UserType(userType)
	u.Position = Position(position)
	return u, nil
}

func (r *pgRepository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// FindByPosition returns role holders ordered so the first row is the
// deterministic winner: explicit primary holder first, then newest account.
func (r *pgRepository) FindByPosition(ctx context.Context, position Position, companyID int64, activeOnly bool) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE position = $1 AND company_id = $2`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY is_primary_holder DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, string(position), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
