package ambulance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bristolpark/hmis/internal/platform/db"
)

type querier struct{ pool *pgxpool.Pool }

func (q querier) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return q.pool
}

// filter accumulates WHERE conditions with numbered placeholders.
type filter struct {
	where string
	args  []interface{}
}

func newFilter() *filter { return &filter{where: ` WHERE 1=1`} }

func (f *filter) add(cond string, arg interface{}) {
	f.args = append(f.args, arg)
	f.where += fmt.Sprintf(" AND "+cond, len(f.args))
}

// page appends ORDER BY, LIMIT and OFFSET.
func (f *filter) page(orderBy string, limit, offset int) (string, []interface{}) {
	n := len(f.args)
	args := append(append([]interface{}{}, f.args...), limit, offset)
	return f.where + fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, n+1, n+2), args
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// =========== Ambulance Repository ===========

type ambulanceRepoPG struct{ querier }

func NewAmbulanceRepoPG(pool *pgxpool.Pool) AmbulanceRepository {
	return &ambulanceRepoPG{querier{pool}}
}

const ambulanceCols = `id, vehicle_number, license_plate, type, status, current_location, base_location,
	make, model, year, mileage, fuel_level, equipment_status, crew, current_call, last_maintenance,
	notes, branch_id, created_at, last_updated_at`

func scanAmbulance(row pgx.Row) (*Ambulance, error) {
	var a Ambulance
	err := row.Scan(&a.ID, &a.VehicleNumber, &a.LicensePlate, &a.Type, &a.Status, &a.CurrentLocation,
		&a.BaseLocation, &a.Make, &a.Model, &a.Year, &a.Mileage, &a.FuelLevel, &a.Equipment, &a.Crew,
		&a.CurrentCall, &a.LastMaintenance, &a.Notes, &a.BranchID, &a.CreatedAt, &a.LastUpdatedAt)
	return &a, err
}

func (r *ambulanceRepoPG) Create(ctx context.Context, a *Ambulance) error {
	a.ID = uuid.New()
	a.Crew = nonNilIDs(a.Crew)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulance (id, vehicle_number, license_plate, type, status, current_location,
			base_location, make, model, year, mileage, fuel_level, equipment_status, crew, current_call,
			last_maintenance, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, last_updated_at`,
		a.ID, a.VehicleNumber, a.LicensePlate, a.Type, a.Status, a.CurrentLocation,
		a.BaseLocation, a.Make, a.Model, a.Year, a.Mileage, a.FuelLevel, a.Equipment, a.Crew, a.CurrentCall,
		a.LastMaintenance, a.Notes, a.BranchID).Scan(&a.CreatedAt, &a.LastUpdatedAt)
}

func (r *ambulanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	return scanAmbulance(r.conn(ctx).QueryRow(ctx, `SELECT `+ambulanceCols+` FROM ambulance WHERE id = $1`, id))
}

func (r *ambulanceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	return scanAmbulance(r.conn(ctx).QueryRow(ctx, `SELECT `+ambulanceCols+` FROM ambulance WHERE id = $1 FOR UPDATE`, id))
}

func (r *ambulanceRepoPG) Update(ctx context.Context, a *Ambulance) error {
	a.Crew = nonNilIDs(a.Crew)
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE ambulance SET vehicle_number=$2, license_plate=$3, type=$4, status=$5, current_location=$6,
			base_location=$7, make=$8, model=$9, year=$10, mileage=$11, fuel_level=$12,
			equipment_status=$13, crew=$14, current_call=$15, last_maintenance=$16, notes=$17,
			last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		a.ID, a.VehicleNumber, a.LicensePlate, a.Type, a.Status, a.CurrentLocation,
		a.BaseLocation, a.Make, a.Model, a.Year, a.Mileage, a.FuelLevel,
		a.Equipment, a.Crew, a.CurrentCall, a.LastMaintenance, a.Notes).Scan(&a.LastUpdatedAt)
}

func (r *ambulanceRepoPG) List(ctx context.Context, af AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error) {
	f := newFilter()
	if af.Status != "" {
		f.add("status = $%d", af.Status)
	}
	if af.Type != "" {
		f.add("type = $%d", af.Type)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	tail, args := f.page("vehicle_number", limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+ambulanceCols+` FROM ambulance`+tail, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *ambulanceRepoPG) CountByStatus(ctx context.Context) (map[AmbulanceStatus]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*)::int FROM ambulance GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[AmbulanceStatus]int{}
	for rows.Next() {
		var s AmbulanceStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// =========== Crew Repository ===========

type crewRepoPG struct{ querier }

func NewCrewRepoPG(pool *pgxpool.Pool) CrewRepository { return &crewRepoPG{querier{pool}} }

const crewCols = `id, staff_id, name, role, qualification, contact_number, email, status,
	current_ambulance, current_shift, certifications, notes, branch_id, created_at, last_updated_at`

func scanCrew(row pgx.Row) (*CrewMember, error) {
	var m CrewMember
	err := row.Scan(&m.ID, &m.StaffID, &m.Name, &m.Role, &m.Qualification, &m.ContactNumber, &m.Email,
		&m.Status, &m.CurrentAmbulance, &m.CurrentShift, &m.Certifications, &m.Notes, &m.BranchID,
		&m.CreatedAt, &m.LastUpdatedAt)
	return &m, err
}

func (r *crewRepoPG) Create(ctx context.Context, m *CrewMember) error {
	m.ID = uuid.New()
	if m.Certifications == nil {
		m.Certifications = []Certification{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulance_crew (id, staff_id, name, role, qualification, contact_number, email, status,
			current_ambulance, current_shift, certifications, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, last_updated_at`,
		m.ID, m.StaffID, m.Name, m.Role, m.Qualification, m.ContactNumber, m.Email, m.Status,
		m.CurrentAmbulance, m.CurrentShift, m.Certifications, m.Notes, m.BranchID).Scan(&m.CreatedAt, &m.LastUpdatedAt)
}

func (r *crewRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CrewMember, error) {
	return scanCrew(r.conn(ctx).QueryRow(ctx, `SELECT `+crewCols+` FROM ambulance_crew WHERE id = $1`, id))
}

func (r *crewRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*CrewMember, error) {
	return scanCrew(r.conn(ctx).QueryRow(ctx, `SELECT `+crewCols+` FROM ambulance_crew WHERE id = $1 FOR UPDATE`, id))
}

func (r *crewRepoPG) Update(ctx context.Context, m *CrewMember) error {
	if m.Certifications == nil {
		m.Certifications = []Certification{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE ambulance_crew SET staff_id=$2, name=$3, role=$4, qualification=$5, contact_number=$6,
			email=$7, status=$8, current_ambulance=$9, current_shift=$10, certifications=$11, notes=$12,
			last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		m.ID, m.StaffID, m.Name, m.Role, m.Qualification, m.ContactNumber,
		m.Email, m.Status, m.CurrentAmbulance, m.CurrentShift, m.Certifications, m.Notes).Scan(&m.LastUpdatedAt)
}

func (r *crewRepoPG) List(ctx context.Context, cf CrewFilter, limit, offset int) ([]*CrewMember, int, error) {
	f := newFilter()
	if cf.Status != "" {
		f.add("status = $%d", cf.Status)
	}
	if cf.Role != "" {
		f.add("role = $%d", cf.Role)
	}
	if cf.Unassigned {
		f.where += " AND current_ambulance IS NULL"
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance_crew`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	tail, args := f.page("name", limit, offset)
	items, err := r.query(ctx, `SELECT `+crewCols+` FROM ambulance_crew`+tail, args...)
	return items, total, err
}

func (r *crewRepoPG) ListByAmbulance(ctx context.Context, id uuid.UUID) ([]*CrewMember, error) {
	return r.query(ctx, `SELECT `+crewCols+` FROM ambulance_crew WHERE current_ambulance = $1 ORDER BY name`, id)
}

func (r *crewRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*CrewMember, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CrewMember
	for rows.Next() {
		m, err := scanCrew(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// =========== Call Repository ===========

type callRepoPG struct{ querier }

func NewCallRepoPG(pool *pgxpool.Pool) CallRepository { return &callRepoPG{querier{pool}} }

const callCols = `id, call_number, call_time, priority, status, caller, patient, location, destination,
	dispatched_ambulance, dispatched_crew, dispatch_time, arrival_time, departure_time,
	hospital_arrival_time, completion_time, vital_signs, treatments, notes, branch_id,
	created_at, last_updated_at`

func scanCall(row pgx.Row) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.CallNumber, &c.CallTime, &c.Priority, &c.Status, &c.Caller, &c.Patient,
		&c.Location, &c.Destination, &c.DispatchedAmbulance, &c.DispatchedCrew, &c.DispatchTime,
		&c.ArrivalTime, &c.DepartureTime, &c.HospitalArrivalTime, &c.CompletionTime, &c.VitalSigns,
		&c.Treatments, &c.Notes, &c.BranchID, &c.CreatedAt, &c.LastUpdatedAt)
	return &c, err
}

func normaliseCall(c *Call) {
	c.DispatchedCrew = nonNilIDs(c.DispatchedCrew)
	if c.VitalSigns == nil {
		c.VitalSigns = []VitalSigns{}
	}
	if c.Treatments == nil {
		c.Treatments = []Treatment{}
	}
}

func (r *callRepoPG) Create(ctx context.Context, c *Call) error {
	c.ID = uuid.New()
	normaliseCall(c)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulance_call (id, call_number, call_time, priority, status, caller, patient, location,
			destination, dispatched_ambulance, dispatched_crew, dispatch_time, arrival_time, departure_time,
			hospital_arrival_time, completion_time, vital_signs, treatments, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, last_updated_at`,
		c.ID, c.CallNumber, c.CallTime, c.Priority, c.Status, c.Caller, c.Patient, c.Location,
		c.Destination, c.DispatchedAmbulance, c.DispatchedCrew, c.DispatchTime, c.ArrivalTime, c.DepartureTime,
		c.HospitalArrivalTime, c.CompletionTime, c.VitalSigns, c.Treatments, c.Notes, c.BranchID).Scan(&c.CreatedAt, &c.LastUpdatedAt)
}

func (r *callRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Call, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+` FROM ambulance_call WHERE id = $1`, id))
}

func (r *callRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Call, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx, `SELECT `+callCols+` FROM ambulance_call WHERE id = $1 FOR UPDATE`, id))
}

func (r *callRepoPG) MaxNumber(ctx context.Context, numberPrefix string) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(substring(call_number FROM length($1) + 1)::bigint), 0)
		FROM ambulance_call WHERE call_number LIKE $1 || '%'`, numberPrefix).Scan(&n)
	return n, err
}

func (r *callRepoPG) Update(ctx context.Context, c *Call) error {
	normaliseCall(c)
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE ambulance_call SET priority=$2, status=$3, caller=$4, patient=$5, location=$6,
			destination=$7, dispatched_ambulance=$8, dispatched_crew=$9, dispatch_time=$10,
			arrival_time=$11, departure_time=$12, hospital_arrival_time=$13, completion_time=$14,
			vital_signs=$15, treatments=$16, notes=$17, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		c.ID, c.Priority, c.Status, c.Caller, c.Patient, c.Location,
		c.Destination, c.DispatchedAmbulance, c.DispatchedCrew, c.DispatchTime,
		c.ArrivalTime, c.DepartureTime, c.HospitalArrivalTime, c.CompletionTime,
		c.VitalSigns, c.Treatments, c.Notes).Scan(&c.LastUpdatedAt)
}

func activeStatuses() []string {
	out := make([]string, len(ActiveCallStatuses))
	for i, s := range ActiveCallStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *callRepoPG) List(ctx context.Context, cf CallFilter, limit, offset int) ([]*Call, int, error) {
	f := newFilter()
	if cf.Status != "" {
		f.add("status = $%d", cf.Status)
	}
	if cf.Priority != "" {
		f.add("priority = $%d", cf.Priority)
	}
	if cf.Active {
		f.add("status = ANY($%d)", activeStatuses())
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance_call`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	// Emergencies first, then oldest call.
	tail, args := f.page(`CASE priority WHEN 'emergency' THEN 0 WHEN 'urgent' THEN 1
		WHEN 'non_urgent' THEN 2 ELSE 3 END, call_time`, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+` FROM ambulance_call`+tail, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *callRepoPG) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance_call WHERE status = ANY($1)`, activeStatuses()).Scan(&n)
	return n, err
}

// =========== Maintenance Repository ===========

type maintenanceRepoPG struct{ querier }

func NewMaintenanceRepoPG(pool *pgxpool.Pool) MaintenanceRepository {
	return &maintenanceRepoPG{querier{pool}}
}

const maintenanceCols = `id, ambulance_id, type, status, description, scheduled_date, start_date,
	completion_date, performed_by, cost, notes, branch_id, created_at, last_updated_at`

func scanMaintenance(row pgx.Row) (*Maintenance, error) {
	var m Maintenance
	err := row.Scan(&m.ID, &m.AmbulanceID, &m.Type, &m.Status, &m.Description, &m.ScheduledDate,
		&m.StartDate, &m.CompletionDate, &m.PerformedBy, &m.Cost, &m.Notes, &m.BranchID,
		&m.CreatedAt, &m.LastUpdatedAt)
	return &m, err
}

func (r *maintenanceRepoPG) Create(ctx context.Context, m *Maintenance) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulance_maintenance (id, ambulance_id, type, status, description, scheduled_date,
			start_date, completion_date, performed_by, cost, notes, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, last_updated_at`,
		m.ID, m.AmbulanceID, m.Type, m.Status, m.Description, m.ScheduledDate,
		m.StartDate, m.CompletionDate, m.PerformedBy, m.Cost, m.Notes, m.BranchID).Scan(&m.CreatedAt, &m.LastUpdatedAt)
}

func (r *maintenanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Maintenance, error) {
	return scanMaintenance(r.conn(ctx).QueryRow(ctx, `SELECT `+maintenanceCols+` FROM ambulance_maintenance WHERE id = $1`, id))
}

func (r *maintenanceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Maintenance, error) {
	return scanMaintenance(r.conn(ctx).QueryRow(ctx, `SELECT `+maintenanceCols+` FROM ambulance_maintenance WHERE id = $1 FOR UPDATE`, id))
}

func (r *maintenanceRepoPG) Update(ctx context.Context, m *Maintenance) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE ambulance_maintenance SET type=$2, status=$3, description=$4, scheduled_date=$5,
			start_date=$6, completion_date=$7, performed_by=$8, cost=$9, notes=$10, last_updated_at=NOW()
		WHERE id = $1
		RETURNING last_updated_at`,
		m.ID, m.Type, m.Status, m.Description, m.ScheduledDate,
		m.StartDate, m.CompletionDate, m.PerformedBy, m.Cost, m.Notes).Scan(&m.LastUpdatedAt)
}

func (r *maintenanceRepoPG) List(ctx context.Context, mf MaintenanceFilter, limit, offset int) ([]*Maintenance, int, error) {
	f := newFilter()
	if mf.AmbulanceID != nil {
		f.add("ambulance_id = $%d", *mf.AmbulanceID)
	}
	if mf.Status != "" {
		f.add("status = $%d", mf.Status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance_maintenance`+f.where, f.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	tail, args := f.page("scheduled_date DESC", limit, offset)
	items, err := r.query(ctx, `SELECT `+maintenanceCols+` FROM ambulance_maintenance`+tail, args...)
	return items, total, err
}

func (r *maintenanceRepoPG) ListUpcoming(ctx context.Context, now time.Time) ([]*Maintenance, error) {
	return r.query(ctx, `SELECT `+maintenanceCols+` FROM ambulance_maintenance
		WHERE status = $1 AND scheduled_date > $2 ORDER BY scheduled_date`, MaintenanceScheduled, now)
}

func (r *maintenanceRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Maintenance, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Maintenance
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
