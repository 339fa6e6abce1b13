package documents

import (
	"context"
	"fmt"

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

const docCols = `id, name, document_type, patient_id, patient_name, description, uploaded_by, upload_date,
	file_name, file_type, file_size, tags, storage_key, sha256, status, branch_id, created_at, last_updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.PatientID, &d.PatientName, &d.Description, &d.UploadedBy,
		&d.UploadDate, &d.FileName, &d.FileType, &d.FileSize, &d.Tags, &d.StorageKey, &d.SHA256, &d.Status,
		&d.BranchID, &d.CreatedAt, &d.LastUpdatedAt)
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document (id, name, document_type, patient_id, patient_name, description, uploaded_by,
			upload_date, file_name, file_type, file_size, tags, storage_key, sha256, status, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, last_updated_at`,
		d.ID, d.Name, d.Type, d.PatientID, d.PatientName, d.Description, d.UploadedBy,
		d.UploadDate, d.FileName, d.FileType, d.FileSize, d.Tags, d.StorageKey, d.SHA256, d.Status, d.BranchID,
	).Scan(&d.CreatedAt, &d.LastUpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.conn(ctx).QueryRow(ctx, `SELECT `+docCols+` FROM document WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, d *Document) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE document SET name=$2, document_type=$3, description=$4, tags=$5, status=$6, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		d.ID, d.Name, d.Type, d.Description, d.Tags, d.Status,
	).Scan(&d.LastUpdatedAt)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM document WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Document, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Type != "" {
		where += fmt.Sprintf(" AND document_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Tag != "" {
		where += fmt.Sprintf(" AND $%d = ANY(tags)", idx)
		args = append(args, f.Tag)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR patient_name ILIKE $%d)", idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM document`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + docCols + ` FROM document` + where +
		fmt.Sprintf(" ORDER BY upload_date DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
