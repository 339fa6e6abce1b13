package admissions

import (
	"context"
	"fmt"
	"sort"
	"strings"

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

// occupied is true for an admission that has not been discharged. Legacy
// rows store an empty string instead of NULL.
const occupied = `(a.discharge_date IS NULL OR a.discharge_date = '')`

// lengthOfStay is whole days since admission. date - date is an integer in
// Postgres; a blank admission date gives NULL.
const lengthOfStay = `(CURRENT_DATE - NULLIF(a.admission_date, '')::date)`

const occupiedCount = `COUNT(CASE WHEN ` + occupied + ` THEN 1 END)`

const occupancyPct = `ROUND((` + occupiedCount + `::DECIMAL / NULLIF(COUNT(DISTINCT a.bed_id), 0)) * 100, 2)::float8`

const wardManagementSQL = `
	SELECT a.admission_id, a.hospital_id, a.ward_id, a.bed_id, a.patient_id,
		a.admission_date, a.discharge_date, a.daily_bed_rate::float8, a.admission_category_id,
		a.diagnosis, a.doctor_admitting,
		CASE WHEN ` + occupied + ` THEN 'Occupied' ELSE 'Available' END AS bed_status,
		` + lengthOfStay + ` AS length_of_stay,
		pd.first_name, pd.last_name, pd.patient_gender, pd.patient_phone,
		ac.admission_category_description
	FROM admissions a
	LEFT JOIN patient_details pd ON a.patient_id = pd.patient_id
	LEFT JOIN admission_categories ac ON a.admission_category_id = ac.admission_category_id
	WHERE a.bed_id IS NOT NULL
	ORDER BY a.hospital_id, a.ward_id, a.bed_id`

func (r *repoPG) WardManagement(ctx context.Context) ([]*WardBed, error) {
	rows, err := r.conn(ctx).Query(ctx, wardManagementSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WardBed
	for rows.Next() {
		var w WardBed
		if err := rows.Scan(&w.AdmissionID, &w.HospitalID, &w.WardID, &w.BedID, &w.PatientID,
			&w.AdmissionDate, &w.DischargeDate, &w.DailyBedRate, &w.CategoryID,
			&w.Diagnosis, &w.DoctorAdmitting, &w.BedStatus, &w.LengthOfStay,
			&w.FirstName, &w.LastName, &w.Gender, &w.Phone, &w.Department); err != nil {
			return nil, err
		}
		w.PatientName = joinName(w.FirstName, w.LastName)
		items = append(items, &w)
	}
	return items, rows.Err()
}

func joinName(parts ...*string) string {
	var s []string
	for _, p := range parts {
		if p != nil && strings.TrimSpace(*p) != "" {
			s = append(s, strings.TrimSpace(*p))
		}
	}
	return strings.Join(s, " ")
}

const departmentsSQL = `
	SELECT ac.admission_category_description AS department_name,
		COUNT(DISTINCT a.ward_id) AS ward_count,
		COUNT(DISTINCT a.bed_id) AS total_beds,
		` + occupiedCount + ` AS occupied_beds,
		COUNT(DISTINCT a.bed_id) - ` + occupiedCount + ` AS available_beds,
		` + occupancyPct + ` AS avg_occupancy_percentage,
		` + occupiedCount + ` AS total_patients
	FROM admission_categories ac
	LEFT JOIN admissions a ON ac.admission_category_id = a.admission_category_id AND a.bed_id IS NOT NULL
	WHERE ac.admission_category_description IS NOT NULL
	GROUP BY ac.admission_category_description
	HAVING COUNT(DISTINCT a.bed_id) > 0
	ORDER BY total_beds DESC`

func (r *repoPG) Departments(ctx context.Context) ([]*DepartmentSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, departmentsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DepartmentSummary
	for rows.Next() {
		var d DepartmentSummary
		if err := rows.Scan(&d.DepartmentName, &d.WardCount, &d.TotalBeds, &d.OccupiedBeds,
			&d.AvailableBeds, &d.AvgOccupancyPercentage, &d.TotalPatients); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}
	return items, rows.Err()
}

// wardsQuery builds the ward overview. occupancy_status is not part of the
// SQL; the service filters on it afterwards.
func wardsQuery(f WardFilter) (string, []interface{}) {
	query := `
	SELECT a.hospital_id, a.ward_id, ('Ward ' || a.ward_id) AS ward_name,
		ac.admission_category_description AS ward_type,
		COUNT(DISTINCT a.bed_id) AS total_beds,
		` + occupiedCount + ` AS occupied_beds,
		COUNT(DISTINCT a.bed_id) - ` + occupiedCount + ` AS available_beds,
		` + occupancyPct + ` AS occupancy_percentage,
		` + occupiedCount + ` AS current_patients,
		ROUND(AVG(a.daily_bed_rate), 2)::float8 AS avg_daily_rate
	FROM admissions a
	LEFT JOIN admission_categories ac ON a.admission_category_id = ac.admission_category_id
	WHERE a.bed_id IS NOT NULL`
	var args []interface{}
	idx := 1

	if f.Department != "" && f.Department != "all" {
		query += fmt.Sprintf(" AND ac.admission_category_description = $%d", idx)
		args = append(args, f.Department)
		idx++
	}
	if f.HospitalID != nil {
		query += fmt.Sprintf(" AND a.hospital_id = $%d", idx)
		args = append(args, *f.HospitalID)
	}
	query += " GROUP BY a.hospital_id, a.ward_id, ac.admission_category_description ORDER BY a.hospital_id, a.ward_id"
	return query, args
}

func (r *repoPG) Wards(ctx context.Context, f WardFilter) ([]*WardOverview, error) {
	query, args := wardsQuery(f)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WardOverview
	for rows.Next() {
		var w WardOverview
		if err := rows.Scan(&w.HospitalID, &w.WardID, &w.WardName, &w.WardType, &w.TotalBeds,
			&w.OccupiedBeds, &w.AvailableBeds, &w.OccupancyPercentage, &w.CurrentPatients,
			&w.AvgDailyRate); err != nil {
			return nil, err
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

// branchNameCase renders BranchNames as a SQL CASE over a.hospital_id.
func branchNameCase() string {
	ids := make([]int, 0, len(BranchNames))
	for id := range BranchNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var b strings.Builder
	b.WriteString("CASE")
	for _, id := range ids {
		fmt.Fprintf(&b, " WHEN a.hospital_id = %d THEN '%s'", id, strings.ReplaceAll(BranchNames[id], "'", "''"))
	}
	b.WriteString(" ELSE ('Hospital ' || a.hospital_id) END")
	return b.String()
}

var branchesSQL = `
	SELECT a.hospital_id, ` + branchNameCase() + ` AS hospital_name,
		COUNT(DISTINCT a.ward_id) AS total_wards,
		COUNT(DISTINCT a.bed_id) AS total_beds,
		` + occupiedCount + ` AS occupied_beds,
		COUNT(DISTINCT a.bed_id) - ` + occupiedCount + ` AS available_beds,
		` + occupancyPct + ` AS occupancy_percentage
	FROM admissions a
	WHERE a.bed_id IS NOT NULL AND a.hospital_id IS NOT NULL
	GROUP BY a.hospital_id
	ORDER BY a.hospital_id`

func (r *repoPG) Branches(ctx context.Context) ([]*BranchSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, branchesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BranchSummary
	for rows.Next() {
		var b BranchSummary
		if err := rows.Scan(&b.HospitalID, &b.HospitalName, &b.TotalWards, &b.TotalBeds,
			&b.OccupiedBeds, &b.AvailableBeds, &b.OccupancyPercentage); err != nil {
			return nil, err
		}
		items = append(items, &b)
	}
	return items, rows.Err()
}

// Aggregates without GROUP BY always yield one row, so an empty view gives
// zero wards and NULL sums rather than no result.
const hospitalStatsSQL = `
	SELECT COUNT(*) AS total_wards,
		SUM(total_beds)::bigint AS total_beds,
		SUM(occupied_beds)::bigint AS total_occupied,
		SUM(available_beds)::bigint AS total_available,
		ROUND((SUM(occupied_beds)::DECIMAL / NULLIF(SUM(total_beds), 0)) * 100, 2)::float8 AS overall_occupancy_percentage,
		SUM(current_patients)::bigint AS total_patients
	FROM bristol_park_overview`

func (r *repoPG) HospitalStats(ctx context.Context) (*HospitalStats, error) {
	var s HospitalStats
	err := r.conn(ctx).QueryRow(ctx, hospitalStatsSQL).Scan(&s.TotalWards, &s.TotalBeds,
		&s.OccupiedBeds, &s.AvailableBeds, &s.OverallOccupancyPercentage, &s.CurrentPatients)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const bedCols = `hospital_id, ward_id, ward_name, ward_type, bed_id, bed_number, bed_status,
	patient_id, patient_name, admission_date, diagnosis, daily_bed_rate::float8, length_of_stay`

func bedsQuery(f BedFilter) (string, []interface{}) {
	query := `SELECT ` + bedCols + ` FROM bristol_park_bed_details WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.WardID != nil {
		query += fmt.Sprintf(" AND ward_id = $%d", idx)
		args = append(args, *f.WardID)
		idx++
	}
	if f.Department != "" {
		query += fmt.Sprintf(" AND ward_type = $%d", idx)
		args = append(args, f.Department)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND bed_status = $%d", idx)
		args = append(args, f.Status)
	}
	query += " ORDER BY ward_id, bed_id"
	return query, args
}

func scanBed(row pgx.Row) (*BedDetail, error) {
	var b BedDetail
	err := row.Scan(&b.HospitalID, &b.WardID, &b.WardName, &b.WardType, &b.BedID, &b.BedNumber,
		&b.BedStatus, &b.PatientID, &b.PatientName, &b.AdmissionDate, &b.Diagnosis,
		&b.DailyBedRate, &b.LengthOfStay)
	return &b, err
}

func (r *repoPG) Beds(ctx context.Context, f BedFilter) ([]*BedDetail, error) {
	query, args := bedsQuery(f)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BedDetail
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func transferableQuery(f TransferFilter) (string, []interface{}) {
	query := fmt.Sprintf(`
	SELECT a.admission_id, a.patient_id,
		CONCAT(pd.first_name, ' ', COALESCE(pd.middle_name, ''), ' ', pd.last_name) AS patient_name,
		pd.patient_gender,
		a.ward_id, ('Ward ' || a.ward_id), a.bed_id, ('Bed-' || a.bed_id),
		%d, '%s',
		a.diagnosis, a.doctor_admitting, ac.admission_category_description,
		`+lengthOfStay+` AS length_of_stay
	FROM admissions a
	LEFT JOIN admission_categories ac ON a.admission_category_id = ac.admission_category_id
	LEFT JOIN patient_details pd ON a.patient_id = pd.patient_id
	WHERE `+occupied+`
		AND a.ward_id IS NOT NULL AND a.bed_id IS NOT NULL
		AND pd.first_name IS NOT NULL AND pd.last_name IS NOT NULL
		AND pd.first_name != '' AND pd.last_name != ''`, MainBranchID, MainBranchName)
	var args []interface{}
	idx := 1

	if f.WardID != nil {
		query += fmt.Sprintf(" AND a.ward_id = $%d", idx)
		args = append(args, *f.WardID)
		idx++
	}
	if f.Department != "" {
		query += fmt.Sprintf(" AND ac.admission_category_description = $%d", idx)
		args = append(args, strings.ToUpper(f.Department))
	}
	query += " ORDER BY length_of_stay DESC NULLS LAST"
	return query, args
}

func (r *repoPG) TransferablePatients(ctx context.Context, f TransferFilter) ([]*TransferablePatient, error) {
	query, args := transferableQuery(f)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TransferablePatient
	for rows.Next() {
		var p TransferablePatient
		if err := rows.Scan(&p.AdmissionID, &p.PatientID, &p.PatientName, &p.Gender,
			&p.CurrentWardID, &p.CurrentWardName, &p.CurrentBedID, &p.CurrentBedNumber,
			&p.CurrentBranchID, &p.CurrentBranchName, &p.Diagnosis, &p.DoctorAdmitting,
			&p.Department, &p.LengthOfStay); err != nil {
			return nil, err
		}
		p.PatientName = strings.Join(strings.Fields(p.PatientName), " ")
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *repoPG) Ping(ctx context.Context) (*APIStatus, error) {
	var s APIStatus
	err := r.conn(ctx).QueryRow(ctx, `SELECT NOW(), 'Bristol Park Hospital API'`).Scan(&s.CurrentTime, &s.Message)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
