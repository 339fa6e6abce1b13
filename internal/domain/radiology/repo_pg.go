package radiology

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

// =========== Test Catalogue Repository ===========

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository { return &testRepoPG{pool: pool} }

func (r *testRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const testCols = `id, name, category, description, price, preparation_instructions, duration, active,
	created_at, last_updated_at`

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Description, &t.Price, &t.PreparationInstructions,
		&t.Duration, &t.Active, &t.CreatedAt, &t.LastUpdatedAt)
	return &t, err
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO radiology_test (id, name, category, description, price, preparation_instructions, duration, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, last_updated_at`,
		t.ID, t.Name, t.Category, t.Description, t.Price, t.PreparationInstructions, t.Duration, t.Active,
	).Scan(&t.CreatedAt, &t.LastUpdatedAt)
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	return scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM radiology_test WHERE id = $1`, id))
}

func (r *testRepoPG) Update(ctx context.Context, t *Test) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE radiology_test SET name=$2, category=$3, description=$4, price=$5,
			preparation_instructions=$6, duration=$7, active=$8, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		t.ID, t.Name, t.Category, t.Description, t.Price, t.PreparationInstructions, t.Duration, t.Active,
	).Scan(&t.LastUpdatedAt)
}

func (r *testRepoPG) List(ctx context.Context, f TestFilter, limit, offset int) ([]*Test, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", idx)
		args = append(args, f.Category)
		idx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", idx)
		args = append(args, *f.Active)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM radiology_test`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + testCols + ` FROM radiology_test` + where +
		fmt.Sprintf(" ORDER BY category, name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, patient_id, patient_name, patient_type, doctor_id, doctor_name, request_date,
	request_time, status, priority, tests, clinical_notes, payment_status, insurance_provider,
	insurance_policy_number, scheduled_date, scheduled_time, cancel_reason, branch_id,
	created_at, last_updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var q Request
	err := row.Scan(&q.ID, &q.PatientID, &q.PatientName, &q.PatientType, &q.DoctorID, &q.DoctorName,
		&q.RequestDate, &q.RequestTime, &q.Status, &q.Priority, &q.Tests, &q.ClinicalNotes,
		&q.PaymentStatus, &q.InsuranceProvider, &q.InsurancePolicyNumber, &q.ScheduledDate,
		&q.ScheduledTime, &q.CancelReason, &q.BranchID, &q.CreatedAt, &q.LastUpdatedAt)
	return &q, err
}

func (r *requestRepoPG) Create(ctx context.Context, q *Request) error {
	q.ID = uuid.New()
	if q.Tests == nil {
		q.Tests = []TestLine{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO radiology_request (id, patient_id, patient_name, patient_type, doctor_id, doctor_name,
			request_date, request_time, status, priority, tests, clinical_notes, payment_status,
			insurance_provider, insurance_policy_number, scheduled_date, scheduled_time, cancel_reason, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, last_updated_at`,
		q.ID, q.PatientID, q.PatientName, q.PatientType, q.DoctorID, q.DoctorName,
		q.RequestDate, q.RequestTime, q.Status, q.Priority, q.Tests, q.ClinicalNotes, q.PaymentStatus,
		q.InsuranceProvider, q.InsurancePolicyNumber, q.ScheduledDate, q.ScheduledTime, q.CancelReason, q.BranchID,
	).Scan(&q.CreatedAt, &q.LastUpdatedAt)
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM radiology_request WHERE id = $1`, id))
}

func (r *requestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM radiology_request WHERE id = $1 FOR UPDATE`, id))
}

func (r *requestRepoPG) Update(ctx context.Context, q *Request) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE radiology_request SET patient_name=$2, patient_type=$3, doctor_id=$4, doctor_name=$5,
			status=$6, priority=$7, tests=$8, clinical_notes=$9, payment_status=$10,
			insurance_provider=$11, insurance_policy_number=$12, scheduled_date=$13, scheduled_time=$14,
			cancel_reason=$15, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		q.ID, q.PatientName, q.PatientType, q.DoctorID, q.DoctorName,
		q.Status, q.Priority, q.Tests, q.ClinicalNotes, q.PaymentStatus,
		q.InsuranceProvider, q.InsurancePolicyNumber, q.ScheduledDate, q.ScheduledTime,
		q.CancelReason,
	).Scan(&q.LastUpdatedAt)
}

func requestWhere(f RequestFilter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(" AND request_date = $%d::date", idx)
		args = append(args, f.Date.Format("2006-01-02"))
	}
	return where, args
}

// Emergency requests sort first, then urgent, then by age.
const requestOrder = ` ORDER BY CASE priority WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1 ELSE 2 END,
	request_date DESC, request_time DESC`

func (r *requestRepoPG) List(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	where, args := requestWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM radiology_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	idx := len(args) + 1
	query := `SELECT ` + requestCols + ` FROM radiology_request` + where + requestOrder +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		q, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}

func (r *requestRepoPG) Stats(ctx context.Context, day time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{ByStatus: map[Status]int{}}
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*)::int FROM radiology_request GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[s] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	d := day.Format("2006-01-02")
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE request_date = $1::date)::int,
			COUNT(*) FILTER (WHERE payment_status = $2 AND status <> $3)::int,
			COUNT(*) FILTER (WHERE scheduled_date = $1::date AND status IN ($4, $5))::int
		FROM radiology_request`,
		d, PaymentPending, StatusCancelled, StatusPending, StatusInProgress,
	).Scan(&stats.Today, &stats.AwaitingPayment, &stats.ScheduledToday)
	return stats, err
}

// =========== External Patient Repository ===========

type externalPatientRepoPG struct{ pool *pgxpool.Pool }

func NewExternalPatientRepoPG(pool *pgxpool.Pool) ExternalPatientRepository {
	return &externalPatientRepoPG{pool: pool}
}

func (r *externalPatientRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, name, gender, age, phone, email, id_number, referred_by, referral_facility,
	registration_date, created_at`

func scanPatient(row pgx.Row) (*ExternalPatient, error) {
	var p ExternalPatient
	err := row.Scan(&p.ID, &p.Name, &p.Gender, &p.Age, &p.Phone, &p.Email, &p.IDNumber, &p.ReferredBy,
		&p.ReferralFacility, &p.RegistrationDate, &p.CreatedAt)
	return &p, err
}

func (r *externalPatientRepoPG) Create(ctx context.Context, p *ExternalPatient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO radiology_external_patient (id, name, gender, age, phone, email, id_number, referred_by,
			referral_facility, registration_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		p.ID, p.Name, p.Gender, p.Age, p.Phone, p.Email, p.IDNumber, p.ReferredBy,
		p.ReferralFacility, p.RegistrationDate,
	).Scan(&p.CreatedAt)
}

func (r *externalPatientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ExternalPatient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM radiology_external_patient WHERE id = $1`, id))
}

func (r *externalPatientRepoPG) List(ctx context.Context, f ExternalPatientFilter, limit, offset int) ([]*ExternalPatient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR phone ILIKE $%d OR id_number ILIKE $%d)", idx, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM radiology_external_patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + patientCols + ` FROM radiology_external_patient` + where +
		fmt.Sprintf(" ORDER BY registration_date DESC, name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ExternalPatient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
