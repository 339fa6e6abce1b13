package bloodbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

// =========== Blood Unit Repository ===========

type unitRepoPG struct{ pool *pgxpool.Pool }

func NewUnitRepoPG(pool *pgxpool.Pool) UnitRepository { return &unitRepoPG{pool: pool} }

func (r *unitRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const unitCols = `id, unit_number, blood_type, product_type, donation_date, expiry_date, volume,
	status, donor_id, location, crossmatched_for, reserved_for, issued_to, notes, branch_id,
	created_at, last_updated_at`

func (r *unitRepoPG) scanUnit(row pgx.Row) (*Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.UnitNumber, &u.BloodType, &u.ProductType, &u.DonationDate, &u.ExpiryDate,
		&u.Volume, &u.Status, &u.DonorID, &u.Location, &u.CrossmatchedFor, &u.ReservedFor, &u.IssuedTo,
		&u.Notes, &u.BranchID, &u.CreatedAt, &u.LastUpdatedAt)
	return &u, err
}

func (r *unitRepoPG) Create(ctx context.Context, u *Unit) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_unit (id, unit_number, blood_type, product_type, donation_date, expiry_date,
			volume, status, donor_id, location, crossmatched_for, reserved_for, issued_to, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, last_updated_at`,
		u.ID, u.UnitNumber, u.BloodType, u.ProductType, u.DonationDate, u.ExpiryDate,
		u.Volume, u.Status, u.DonorID, u.Location, u.CrossmatchedFor, u.ReservedFor, u.IssuedTo,
		u.Notes, u.BranchID).Scan(&u.CreatedAt, &u.LastUpdatedAt)
}

func (r *unitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Unit, error) {
	return r.scanUnit(r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE id = $1`, id))
}

func (r *unitRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Unit, error) {
	return r.scanUnit(r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE id = $1 FOR UPDATE`, id))
}

func (r *unitRepoPG) GetByNumber(ctx context.Context, unitNumber string) (*Unit, error) {
	return r.scanUnit(r.conn(ctx).QueryRow(ctx, `SELECT `+unitCols+` FROM blood_unit WHERE unit_number = $1`, unitNumber))
}

func (r *unitRepoPG) Update(ctx context.Context, u *Unit) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE blood_unit SET blood_type=$2, product_type=$3, donation_date=$4, expiry_date=$5,
			volume=$6, status=$7, donor_id=$8, location=$9, crossmatched_for=$10, reserved_for=$11,
			issued_to=$12, notes=$13, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		u.ID, u.BloodType, u.ProductType, u.DonationDate, u.ExpiryDate,
		u.Volume, u.Status, u.DonorID, u.Location, u.CrossmatchedFor, u.ReservedFor,
		u.IssuedTo, u.Notes).Scan(&u.LastUpdatedAt)
}

func unitWhere(f UnitFilter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.BloodType != "" {
		where += fmt.Sprintf(" AND blood_type = $%d", idx)
		args = append(args, f.BloodType)
		idx++
	}
	if f.ProductType != "" {
		where += fmt.Sprintf(" AND product_type = $%d", idx)
		args = append(args, f.ProductType)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.DonorID != nil {
		where += fmt.Sprintf(" AND donor_id = $%d", idx)
		args = append(args, *f.DonorID)
	}
	return where, args
}

func (r *unitRepoPG) List(ctx context.Context, f UnitFilter, limit, offset int) ([]*Unit, int, error) {
	where, args := unitWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_unit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	query := `SELECT ` + unitCols + ` FROM blood_unit` + where +
		fmt.Sprintf(" ORDER BY expiry_date ASC, unit_number LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Unit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *unitRepoPG) CountAvailable(ctx context.Context) ([]InventoryCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT blood_type, product_type, COUNT(*)::int
		FROM blood_unit WHERE status = $1
		GROUP BY blood_type, product_type`, UnitAvailable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InventoryCount
	for rows.Next() {
		var c InventoryCount
		if err := rows.Scan(&c.BloodType, &c.ProductType, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *unitRepoPG) ListExpiring(ctx context.Context, now time.Time) ([]*Unit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+unitCols+` FROM blood_unit
		WHERE status = ANY($1) AND expiry_date < $2 ORDER BY expiry_date FOR UPDATE`,
		[]string{string(UnitAvailable), string(UnitReserved), string(UnitCrossmatched)}, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Unit
	for rows.Next() {
		u, err := r.scanUnit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// =========== Donor Repository ===========

type donorRepoPG struct{ pool *pgxpool.Pool }

func NewDonorRepoPG(pool *pgxpool.Pool) DonorRepository { return &donorRepoPG{pool: pool} }

func (r *donorRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const donorCols = `id, donor_number, name, blood_type, gender, date_of_birth, contact_number, email,
	address, status, last_donation_date, deferral_reason, deferral_until, medical_history, notes,
	donations, created_at, last_updated_at`

func (r *donorRepoPG) scanDonor(row pgx.Row) (*Donor, error) {
	var d Donor
	err := row.Scan(&d.ID, &d.DonorNumber, &d.Name, &d.BloodType, &d.Gender, &d.DateOfBirth,
		&d.ContactNumber, &d.Email, &d.Address, &d.Status, &d.LastDonationDate, &d.DeferralReason,
		&d.DeferralUntil, &d.MedicalHistory, &d.Notes, &d.Donations, &d.CreatedAt, &d.LastUpdatedAt)
	return &d, err
}

func normalizeDonor(d *Donor) {
	if d.MedicalHistory == nil {
		d.MedicalHistory = []string{}
	}
	if d.Donations == nil {
		d.Donations = []Donation{}
	}
}

func (r *donorRepoPG) Create(ctx context.Context, d *Donor) error {
	d.ID = uuid.New()
	normalizeDonor(d)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_donor (id, donor_number, name, blood_type, gender, date_of_birth, contact_number,
			email, address, status, last_donation_date, deferral_reason, deferral_until, medical_history,
			notes, donations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, last_updated_at`,
		d.ID, d.DonorNumber, d.Name, d.BloodType, d.Gender, d.DateOfBirth, d.ContactNumber,
		d.Email, d.Address, d.Status, d.LastDonationDate, d.DeferralReason, d.DeferralUntil,
		d.MedicalHistory, d.Notes, d.Donations).Scan(&d.CreatedAt, &d.LastUpdatedAt)
}

func (r *donorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return r.scanDonor(r.conn(ctx).QueryRow(ctx, `SELECT `+donorCols+` FROM blood_donor WHERE id = $1`, id))
}

func (r *donorRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return r.scanDonor(r.conn(ctx).QueryRow(ctx, `SELECT `+donorCols+` FROM blood_donor WHERE id = $1 FOR UPDATE`, id))
}

func (r *donorRepoPG) Update(ctx context.Context, d *Donor) error {
	normalizeDonor(d)
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE blood_donor SET name=$2, blood_type=$3, gender=$4, date_of_birth=$5, contact_number=$6,
			email=$7, address=$8, status=$9, last_donation_date=$10, deferral_reason=$11,
			deferral_until=$12, medical_history=$13, notes=$14, donations=$15, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		d.ID, d.Name, d.BloodType, d.Gender, d.DateOfBirth, d.ContactNumber,
		d.Email, d.Address, d.Status, d.LastDonationDate, d.DeferralReason,
		d.DeferralUntil, d.MedicalHistory, d.Notes, d.Donations).Scan(&d.LastUpdatedAt)
}

func (r *donorRepoPG) List(ctx context.Context, f DonorFilter, limit, offset int) ([]*Donor, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.BloodType != "" {
		where += fmt.Sprintf(" AND blood_type = $%d", idx)
		args = append(args, f.BloodType)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR donor_number ILIKE $%d)", idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_donor`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + donorCols + ` FROM blood_donor` + where +
		fmt.Sprintf(" ORDER BY name LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Donor
	for rows.Next() {
		d, err := r.scanDonor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Blood Request Repository ===========

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository { return &requestRepoPG{pool: pool} }

func (r *requestRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, request_number, request_date, requested_by, department, patient_id,
	patient_name, patient_blood_type, diagnosis, urgency, status, products, crossmatch_results,
	approved_by, approved_at, issued_by, issued_at, notes, branch_id, created_at, last_updated_at`

func (r *requestRepoPG) scanRequest(row pgx.Row) (*Request, error) {
	var q Request
	err := row.Scan(&q.ID, &q.RequestNumber, &q.RequestDate, &q.RequestedBy, &q.Department, &q.PatientID,
		&q.PatientName, &q.PatientBloodType, &q.Diagnosis, &q.Urgency, &q.Status, &q.Products,
		&q.CrossmatchResults, &q.ApprovedBy, &q.ApprovedAt, &q.IssuedBy, &q.IssuedAt, &q.Notes,
		&q.BranchID, &q.CreatedAt, &q.LastUpdatedAt)
	return &q, err
}

func normalizeRequest(q *Request) {
	if q.Products == nil {
		q.Products = []ProductLine{}
	}
	for i := range q.Products {
		if q.Products[i].UnitIDs == nil {
			q.Products[i].UnitIDs = []uuid.UUID{}
		}
	}
	if q.CrossmatchResults == nil {
		q.CrossmatchResults = []CrossmatchResult{}
	}
}

func (r *requestRepoPG) Create(ctx context.Context, q *Request) error {
	q.ID = uuid.New()
	normalizeRequest(q)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blood_request (id, request_number, request_date, requested_by, department, patient_id,
			patient_name, patient_blood_type, diagnosis, urgency, status, products, crossmatch_results,
			approved_by, approved_at, issued_by, issued_at, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, last_updated_at`,
		q.ID, q.RequestNumber, q.RequestDate, q.RequestedBy, q.Department, q.PatientID,
		q.PatientName, q.PatientBloodType, q.Diagnosis, q.Urgency, q.Status, q.Products,
		q.CrossmatchResults, q.ApprovedBy, q.ApprovedAt, q.IssuedBy, q.IssuedAt, q.Notes,
		q.BranchID).Scan(&q.CreatedAt, &q.LastUpdatedAt)
}

func (r *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM blood_request WHERE id = $1`, id))
}

func (r *requestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	return r.scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM blood_request WHERE id = $1 FOR UPDATE`, id))
}

func (r *requestRepoPG) MaxNumber(ctx context.Context, numberPrefix string) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(substring(request_number FROM length($1) + 1)::bigint), 0)
		FROM blood_request WHERE request_number LIKE $1 || '%'`, numberPrefix).Scan(&n)
	return n, err
}

func (r *requestRepoPG) Update(ctx context.Context, q *Request) error {
	normalizeRequest(q)
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE blood_request SET requested_by=$2, department=$3, patient_id=$4, patient_name=$5,
			patient_blood_type=$6, diagnosis=$7, urgency=$8, status=$9, products=$10,
			crossmatch_results=$11, approved_by=$12, approved_at=$13, issued_by=$14, issued_at=$15,
			notes=$16, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		q.ID, q.RequestedBy, q.Department, q.PatientID, q.PatientName,
		q.PatientBloodType, q.Diagnosis, q.Urgency, q.Status, q.Products,
		q.CrossmatchResults, q.ApprovedBy, q.ApprovedAt, q.IssuedBy, q.IssuedAt,
		q.Notes).Scan(&q.LastUpdatedAt)
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
	if f.Department != "" {
		where += fmt.Sprintf(" AND department = $%d", idx)
		args = append(args, f.Department)
		idx++
	}
	if f.PatientID != "" {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.Urgency != "" {
		where += fmt.Sprintf(" AND urgency = $%d", idx)
		args = append(args, f.Urgency)
	}
	return where, args
}

func (r *requestRepoPG) List(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	where, args := requestWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM blood_request`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	query := `SELECT ` + requestCols + ` FROM blood_request` + where +
		fmt.Sprintf(" ORDER BY request_date DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		q, err := r.scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, q)
	}
	return items, total, rows.Err()
}
