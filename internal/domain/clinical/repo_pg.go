package clinical

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository { return &queueRepoPG{pool: pool} }

func (r *queueRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const queueCols = `id, patient_id, patient_name, token_number, queue_date, status, priority, doctor_id,
	doctor_name, registered_at, estimated_wait_time, vitals, lab_tests, medications, diagnoses,
	chief_complaints, notes, branch_id, created_at, last_updated_at`

func scanEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.PatientID, &e.PatientName, &e.TokenNumber, &e.QueueDate, &e.Status,
		&e.Priority, &e.DoctorID, &e.DoctorName, &e.RegisteredAt, &e.EstimatedWaitTime, &e.Vitals,
		&e.LabTests, &e.Medications, &e.Diagnoses, &e.ChiefComplaints, &e.Notes, &e.BranchID,
		&e.CreatedAt, &e.LastUpdatedAt)
	return &e, err
}

func normalize(e *QueueEntry) {
	if e.LabTests == nil {
		e.LabTests = []LabTest{}
	}
	if e.Medications == nil {
		e.Medications = []Medication{}
	}
	if e.Diagnoses == nil {
		e.Diagnoses = []Diagnosis{}
	}
}

func (r *queueRepoPG) Create(ctx context.Context, e *QueueEntry) error {
	e.ID = uuid.New()
	normalize(e)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinical_queue_entry (id, patient_id, patient_name, token_number, queue_date, status,
			priority, doctor_id, doctor_name, registered_at, estimated_wait_time, vitals, lab_tests,
			medications, diagnoses, chief_complaints, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, last_updated_at`,
		e.ID, e.PatientID, e.PatientName, e.TokenNumber, e.QueueDate, e.Status,
		e.Priority, e.DoctorID, e.DoctorName, e.RegisteredAt, e.EstimatedWaitTime, e.Vitals, e.LabTests,
		e.Medications, e.Diagnoses, e.ChiefComplaints, e.Notes, e.BranchID,
	).Scan(&e.CreatedAt, &e.LastUpdatedAt)
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+queueCols+` FROM clinical_queue_entry WHERE id = $1`, id))
}

func (r *queueRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+queueCols+` FROM clinical_queue_entry WHERE id = $1 FOR UPDATE`, id))
}

func (r *queueRepoPG) MaxToken(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(token_number), 0) FROM clinical_queue_entry WHERE queue_date = $1::date`,
		day.Format("2006-01-02")).Scan(&n)
	return n, err
}

func (r *queueRepoPG) Update(ctx context.Context, e *QueueEntry) error {
	normalize(e)
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE clinical_queue_entry SET patient_name=$2, status=$3, priority=$4, doctor_id=$5, doctor_name=$6,
			estimated_wait_time=$7, vitals=$8, lab_tests=$9, medications=$10, diagnoses=$11,
			chief_complaints=$12, notes=$13, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		e.ID, e.PatientName, e.Status, e.Priority, e.DoctorID, e.DoctorName,
		e.EstimatedWaitTime, e.Vitals, e.LabTests, e.Medications, e.Diagnoses,
		e.ChiefComplaints, e.Notes,
	).Scan(&e.LastUpdatedAt)
}

// Emergency entries are served first, then by token.
const queueOrder = ` ORDER BY CASE priority WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END, token_number`

func (r *queueRepoPG) List(ctx context.Context, f QueueFilter, limit, offset int) ([]*QueueEntry, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.DoctorID != "" {
		where += fmt.Sprintf(" AND doctor_id = $%d", idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if f.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(" AND queue_date = $%d::date", idx)
		args = append(args, f.Date.Format("2006-01-02"))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_queue_entry`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + queueCols + ` FROM clinical_queue_entry` + where + queueOrder +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
