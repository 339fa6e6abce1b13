package staff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, username, email, password_hash, first_name, last_name, role, department, phone,
	branch_id, is_active, last_login, created_at, last_updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.Department, &u.Phone, &u.BranchID, &u.Active, &u.LastLogin, &u.CreatedAt, &u.LastUpdatedAt)
	return &u, err
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_user (id, username, email, password_hash, first_name, last_name, role, department,
			phone, branch_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, last_updated_at`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.Department,
		u.Phone, u.BranchID, u.Active,
	).Scan(&u.CreatedAt, &u.LastUpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM staff_user WHERE id = $1`, id))
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM staff_user WHERE lower(username) = lower($1)`, username))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM staff_user WHERE lower(email) = lower($1)`, email))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE staff_user SET email=$2, first_name=$3, last_name=$4, role=$5, department=$6, phone=$7,
			branch_id=$8, is_active=$9, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Role, u.Department, u.Phone, u.BranchID, u.Active,
	).Scan(&u.LastUpdatedAt)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, `UPDATE staff_user SET password_hash=$2, last_updated_at=NOW() WHERE id = $1`, id, hash)
}

func (r *repoPG) SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE staff_user SET last_login=$2 WHERE id = $1`, id, at)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM staff_user WHERE id = $1`, id)
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Role != "" {
		where += fmt.Sprintf(" AND role = $%d", idx)
		args = append(args, f.Role)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(" AND is_active = $%d", idx)
		args = append(args, *f.Active)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (username ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d)",
			idx, idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + userCols + ` FROM staff_user` + where +
		fmt.Sprintf(" ORDER BY last_name, first_name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
