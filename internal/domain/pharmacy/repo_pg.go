package pharmacy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

func connFor(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Prescription Repository ===========

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const rxCols = `id, patient_id, patient_name, token_number, doctor_id, doctor_name, medications, status,
	patient_type, is_walk_in, is_confirmed, confirmed_by, confirmed_at, dispensed_by, dispensed_at,
	payment_status, insurance_provider, insurance_policy_number, total_amount, notes, branch_id,
	created_at, last_updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var rx Prescription
	err := row.Scan(&rx.ID, &rx.PatientID, &rx.PatientName, &rx.TokenNumber, &rx.DoctorID, &rx.DoctorName,
		&rx.Medications, &rx.Status, &rx.PatientType, &rx.IsWalkIn, &rx.IsConfirmed, &rx.ConfirmedBy,
		&rx.ConfirmedAt, &rx.DispensedBy, &rx.DispensedAt, &rx.PaymentStatus, &rx.InsuranceProvider,
		&rx.InsurancePolicyNumber, &rx.TotalAmount, &rx.Notes, &rx.BranchID, &rx.CreatedAt, &rx.LastUpdatedAt)
	return &rx, err
}

func (r *prescriptionRepoPG) Create(ctx context.Context, rx *Prescription) error {
	if rx.ID == "" {
		rx.ID = uuid.New().String()
	}
	if rx.Medications == nil {
		rx.Medications = []Medication{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pharmacy_prescription (id, patient_id, patient_name, token_number, doctor_id, doctor_name,
			medications, status, patient_type, is_walk_in, is_confirmed, confirmed_by, confirmed_at,
			dispensed_by, dispensed_at, payment_status, insurance_provider, insurance_policy_number,
			total_amount, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created_at, last_updated_at`,
		rx.ID, rx.PatientID, rx.PatientName, rx.TokenNumber, rx.DoctorID, rx.DoctorName,
		rx.Medications, rx.Status, rx.PatientType, rx.IsWalkIn, rx.IsConfirmed, rx.ConfirmedBy, rx.ConfirmedAt,
		rx.DispensedBy, rx.DispensedAt, rx.PaymentStatus, rx.InsuranceProvider, rx.InsurancePolicyNumber,
		rx.TotalAmount, rx.Notes, rx.BranchID,
	).Scan(&rx.CreatedAt, &rx.LastUpdatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id string) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) GetForUpdate(ctx context.Context, id string) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM pharmacy_prescription WHERE id = $1 FOR UPDATE`, id))
}

func (r *prescriptionRepoPG) Update(ctx context.Context, rx *Prescription) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE pharmacy_prescription SET medications=$2, status=$3, patient_type=$4, is_confirmed=$5,
			confirmed_by=$6, confirmed_at=$7, dispensed_by=$8, dispensed_at=$9, payment_status=$10,
			insurance_provider=$11, insurance_policy_number=$12, total_amount=$13, notes=$14,
			last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		rx.ID, rx.Medications, rx.Status, rx.PatientType, rx.IsConfirmed,
		rx.ConfirmedBy, rx.ConfirmedAt, rx.DispensedBy, rx.DispensedAt, rx.PaymentStatus,
		rx.InsuranceProvider, rx.InsurancePolicyNumber, rx.TotalAmount, rx.Notes,
	).Scan(&rx.LastUpdatedAt)
}

func (r *prescriptionRepoPG) List(ctx context.Context, f PrescriptionFilter, limit, offset int) ([]*Prescription, int, error) {
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
	if f.PatientType != "" {
		where += fmt.Sprintf(" AND patient_type = $%d", idx)
		args = append(args, f.PatientType)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + rxCols + ` FROM pharmacy_prescription` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		rx, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rx)
	}
	return items, total, rows.Err()
}

// =========== Inventory Repository ===========

type inventoryRepoPG struct{ pool *pgxpool.Pool }

func NewInventoryRepoPG(pool *pgxpool.Pool) InventoryRepository { return &inventoryRepoPG{pool: pool} }

func (r *inventoryRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const itemCols = `id, name, generic_name, category, dosage_form, strength, manufacturer, batch_number,
	expiry_date, quantity, reorder_level, unit_price, location, branch_id, created_at, last_updated_at`

func scanItem(row pgx.Row) (*InventoryItem, error) {
	var it InventoryItem
	err := row.Scan(&it.ID, &it.Name, &it.GenericName, &it.Category, &it.DosageForm, &it.Strength,
		&it.Manufacturer, &it.BatchNumber, &it.ExpiryDate, &it.Quantity, &it.ReorderLevel, &it.UnitPrice,
		&it.Location, &it.BranchID, &it.CreatedAt, &it.LastUpdatedAt)
	return &it, err
}

func (r *inventoryRepoPG) queryItems(ctx context.Context, query string, args ...interface{}) ([]*InventoryItem, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *inventoryRepoPG) Create(ctx context.Context, it *InventoryItem) error {
	it.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pharmacy_inventory (id, name, generic_name, category, dosage_form, strength, manufacturer,
			batch_number, expiry_date, quantity, reorder_level, unit_price, location, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, last_updated_at`,
		it.ID, it.Name, it.GenericName, it.Category, it.DosageForm, it.Strength, it.Manufacturer,
		it.BatchNumber, it.ExpiryDate, it.Quantity, it.ReorderLevel, it.UnitPrice, it.Location, it.BranchID,
	).Scan(&it.CreatedAt, &it.LastUpdatedAt)
}

func (r *inventoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM pharmacy_inventory WHERE id = $1`, id))
}

func (r *inventoryRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM pharmacy_inventory WHERE id = $1 FOR UPDATE`, id))
}

// FindByName prefers the batch that expires first.
func (r *inventoryRepoPG) FindByName(ctx context.Context, name string, branchID int, location string) (*InventoryItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `
		SELECT `+itemCols+` FROM pharmacy_inventory
		WHERE lower(name) = lower($1) AND branch_id = $2 AND ($3 = '' OR location = $3)
		ORDER BY expiry_date
		LIMIT 1`, name, branchID, location))
}

func (r *inventoryRepoPG) Update(ctx context.Context, it *InventoryItem) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE pharmacy_inventory SET name=$2, generic_name=$3, category=$4, dosage_form=$5, strength=$6,
			manufacturer=$7, batch_number=$8, expiry_date=$9, quantity=$10, reorder_level=$11,
			unit_price=$12, location=$13, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		it.ID, it.Name, it.GenericName, it.Category, it.DosageForm, it.Strength,
		it.Manufacturer, it.BatchNumber, it.ExpiryDate, it.Quantity, it.ReorderLevel,
		it.UnitPrice, it.Location,
	).Scan(&it.LastUpdatedAt)
}

func (r *inventoryRepoPG) List(ctx context.Context, f InventoryFilter, limit, offset int) ([]*InventoryItem, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", idx)
		args = append(args, f.Category)
		idx++
	}
	if f.Location != "" {
		where += fmt.Sprintf(" AND location = $%d", idx)
		args = append(args, f.Location)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR generic_name ILIKE $%d)", idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_inventory`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + itemCols + ` FROM pharmacy_inventory` + where +
		fmt.Sprintf(" ORDER BY name, expiry_date LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)
	items, err := r.queryItems(ctx, query, args...)
	return items, total, err
}

func (r *inventoryRepoPG) ListBelowReorder(ctx context.Context) ([]*InventoryItem, error) {
	return r.queryItems(ctx, `SELECT `+itemCols+` FROM pharmacy_inventory
		WHERE quantity <= reorder_level ORDER BY quantity - reorder_level, name`)
}

func (r *inventoryRepoPG) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*InventoryItem, error) {
	return r.queryItems(ctx, `SELECT `+itemCols+` FROM pharmacy_inventory
		WHERE expiry_date <= $1 ORDER BY expiry_date, name`, cutoff)
}

// =========== Stock Movement Repository ===========

type movementRepoPG struct{ pool *pgxpool.Pool }

func NewMovementRepoPG(pool *pgxpool.Pool) MovementRepository { return &movementRepoPG{pool: pool} }

func (r *movementRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const movementCols = `id, item_id, item_name, type, quantity, from_location, to_location, reason,
	performed_by, performed_at, reference`

func scanMovement(row pgx.Row) (*StockMovement, error) {
	var m StockMovement
	err := row.Scan(&m.ID, &m.ItemID, &m.ItemName, &m.Type, &m.Quantity, &m.FromLocation, &m.ToLocation,
		&m.Reason, &m.PerformedBy, &m.PerformedAt, &m.Reference)
	return &m, err
}

func (r *movementRepoPG) Create(ctx context.Context, m *StockMovement) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pharmacy_stock_movement (id, item_id, item_name, type, quantity, from_location,
			to_location, reason, performed_by, performed_at, reference)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.ItemID, m.ItemName, m.Type, m.Quantity, m.FromLocation,
		m.ToLocation, m.Reason, m.PerformedBy, m.PerformedAt, m.Reference)
	return err
}

func (r *movementRepoPG) List(ctx context.Context, f MovementFilter, limit, offset int) ([]*StockMovement, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.ItemID != nil {
		where += fmt.Sprintf(" AND item_id = $%d", idx)
		args = append(args, *f.ItemID)
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND performed_at >= $%d", idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND performed_at <= $%d", idx)
		args = append(args, *f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_stock_movement`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + movementCols + ` FROM pharmacy_stock_movement` + where +
		fmt.Sprintf(" ORDER BY performed_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *movementRepoPG) Summaries(ctx context.Context, itemID *uuid.UUID, from, to time.Time) ([]MovementSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, i.name, i.quantity,
			COALESCE(SUM(m.quantity) FILTER (WHERE m.type = 'in'), 0)::int,
			COALESCE(SUM(m.quantity) FILTER (WHERE m.type = 'out'), 0)::int,
			COALESCE(-SUM(m.quantity) FILTER (WHERE m.type = 'adjustment'), 0)::int,
			COALESCE(SUM(m.quantity) FILTER (WHERE m.type = 'transfer'), 0)::int
		FROM pharmacy_inventory i
		LEFT JOIN pharmacy_stock_movement m
			ON m.item_id = i.id AND m.performed_at BETWEEN $1 AND $2
		WHERE ($3::uuid IS NULL OR i.id = $3)
		GROUP BY i.id, i.name, i.quantity
		ORDER BY i.name`, from, to, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MovementSummary
	for rows.Next() {
		var s MovementSummary
		if err := rows.Scan(&s.ItemID, &s.ItemName, &s.ClosingBalance, &s.Received, &s.Dispensed,
			&s.Adjusted, &s.Transferred); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// =========== Stock Take Repository ===========

type stockTakeRepoPG struct{ pool *pgxpool.Pool }

func NewStockTakeRepoPG(pool *pgxpool.Pool) StockTakeRepository { return &stockTakeRepoPG{pool: pool} }

func (r *stockTakeRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const stockTakeCols = `id, name, status, start_date, end_date, location, conducted_by, items, notes,
	branch_id, created_at`

func scanStockTake(row pgx.Row) (*StockTake, error) {
	var st StockTake
	err := row.Scan(&st.ID, &st.Name, &st.Status, &st.StartDate, &st.EndDate, &st.Location,
		&st.ConductedBy, &st.Items, &st.Notes, &st.BranchID, &st.CreatedAt)
	return &st, err
}

func (r *stockTakeRepoPG) Create(ctx context.Context, st *StockTake) error {
	st.ID = uuid.New()
	if st.Items == nil {
		st.Items = []StockTakeItem{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pharmacy_stock_take (id, name, status, start_date, end_date, location, conducted_by,
			items, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		st.ID, st.Name, st.Status, st.StartDate, st.EndDate, st.Location, st.ConductedBy,
		st.Items, st.Notes, st.BranchID,
	).Scan(&st.CreatedAt)
}

func (r *stockTakeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StockTake, error) {
	return scanStockTake(r.conn(ctx).QueryRow(ctx, `SELECT `+stockTakeCols+` FROM pharmacy_stock_take WHERE id = $1`, id))
}

func (r *stockTakeRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*StockTake, error) {
	return scanStockTake(r.conn(ctx).QueryRow(ctx, `SELECT `+stockTakeCols+` FROM pharmacy_stock_take WHERE id = $1 FOR UPDATE`, id))
}

func (r *stockTakeRepoPG) Update(ctx context.Context, st *StockTake) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacy_stock_take SET status=$2, end_date=$3, items=$4, notes=$5
		WHERE id = $1`,
		st.ID, st.Status, st.EndDate, st.Items, st.Notes)
	return err
}

func (r *stockTakeRepoPG) List(ctx context.Context, status StockTakeStatus, limit, offset int) ([]*StockTake, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_stock_take WHERE ($1 = '' OR status = $1)`,
		string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+stockTakeCols+` FROM pharmacy_stock_take
		WHERE ($1 = '' OR status = $1) ORDER BY start_date DESC LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockTake
	for rows.Next() {
		st, err := scanStockTake(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, st)
	}
	return items, total, rows.Err()
}

// =========== Transfer Repository ===========

type transferRepoPG struct{ pool *pgxpool.Pool }

func NewTransferRepoPG(pool *pgxpool.Pool) TransferRepository { return &transferRepoPG{pool: pool} }

func (r *transferRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const transferCols = `id, transfer_type, from_branch_id, to_branch_id, from_location, to_location, items,
	status, requested_by, requested_at, completed_by, completed_at, notes`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.TransferType, &t.FromBranchID, &t.ToBranchID, &t.FromLocation, &t.ToLocation,
		&t.Items, &t.Status, &t.RequestedBy, &t.RequestedAt, &t.CompletedBy, &t.CompletedAt, &t.Notes)
	return &t, err
}

func (r *transferRepoPG) Create(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pharmacy_transfer (id, transfer_type, from_branch_id, to_branch_id, from_location,
			to_location, items, status, requested_by, requested_at, completed_by, completed_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.TransferType, t.FromBranchID, t.ToBranchID, t.FromLocation,
		t.ToLocation, t.Items, t.Status, t.RequestedBy, t.RequestedAt, t.CompletedBy, t.CompletedAt, t.Notes)
	return err
}

func (r *transferRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return scanTransfer(r.conn(ctx).QueryRow(ctx, `SELECT `+transferCols+` FROM pharmacy_transfer WHERE id = $1`, id))
}

func (r *transferRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return scanTransfer(r.conn(ctx).QueryRow(ctx, `SELECT `+transferCols+` FROM pharmacy_transfer WHERE id = $1 FOR UPDATE`, id))
}

func (r *transferRepoPG) Update(ctx context.Context, t *Transfer) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacy_transfer SET status=$2, completed_by=$3, completed_at=$4, notes=$5
		WHERE id = $1`,
		t.ID, t.Status, t.CompletedBy, t.CompletedAt, t.Notes)
	return err
}

func (r *transferRepoPG) List(ctx context.Context, status TransferStatus, limit, offset int) ([]*Transfer, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_transfer WHERE ($1 = '' OR status = $1)`,
		string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+transferCols+` FROM pharmacy_transfer
		WHERE ($1 = '' OR status = $1) ORDER BY requested_at DESC LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}
