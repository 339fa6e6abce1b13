package admissions

import "time"

// Bed status labels derived from the discharge date.
const (
	BedOccupied  = "Occupied"
	BedAvailable = "Available"
)

// Occupancy filters accepted by the ward overview.
const (
	OccupancyFull      = "full"
	OccupancyAvailable = "available"
	OccupancyCritical  = "critical"
)

// CriticalOccupancy is the percentage at which a ward counts as critical.
const CriticalOccupancy = 90.0

// Current branch reported for transferable patients.
const (
	MainBranchID   = 18
	MainBranchName = "Bristol Park Hospital"
)

// BranchNames maps hospital ids to branch names.
var BranchNames = map[int]string{
	18: "Bristol Park Hospital - Main",
	19: "Bristol Park Hospital - Fedha",
	20: "Bristol Park Hospital - Utawala",
	21: "Bristol Park Hospital - Tassia",
	22: "Bristol Park Hospital - Machakos",
	23: "Bristol Park Hospital - Kitengela",
}

// WardBed is one admission row on the ward management board.
type WardBed struct {
	AdmissionID     int64    `json:"admission_id"`
	HospitalID      *int     `json:"hospital_id"`
	WardID          *int     `json:"ward_id"`
	BedID           *int     `json:"bed_id"`
	PatientID       *int64   `json:"patient_id"`
	PatientName     string   `json:"patient_name"`
	FirstName       *string  `json:"first_name"`
	LastName        *string  `json:"last_name"`
	Gender          *string  `json:"patient_gender"`
	Phone           *string  `json:"patient_phone"`
	AdmissionDate   *string  `json:"admission_date"`
	DischargeDate   *string  `json:"discharge_date"`
	DailyBedRate    *float64 `json:"daily_bed_rate"`
	CategoryID      *int     `json:"admission_category_id"`
	Department      *string  `json:"department"`
	Diagnosis       *string  `json:"diagnosis"`
	DoctorAdmitting *string  `json:"doctor_admitting"`
	BedStatus       string   `json:"bed_status"`
	LengthOfStay    *int     `json:"length_of_stay"`
}

// DepartmentSummary groups beds by admission category.
type DepartmentSummary struct {
	DepartmentName         string   `json:"department_name"`
	WardCount              int64    `json:"ward_count"`
	TotalBeds              int64    `json:"total_beds"`
	OccupiedBeds           int64    `json:"occupied_beds"`
	AvailableBeds          int64    `json:"available_beds"`
	AvgOccupancyPercentage *float64 `json:"avg_occupancy_percentage"`
	TotalPatients          int64    `json:"total_patients"`
}

// WardFilter narrows the ward overview.
type WardFilter struct {
	Department      string
	HospitalID      *int
	OccupancyStatus string
}

// WardOverview is the per-ward occupancy row.
type WardOverview struct {
	HospitalID          *int     `json:"hospital_id"`
	WardID              *int     `json:"ward_id"`
	WardName            string   `json:"ward_name"`
	WardType            *string  `json:"ward_type"`
	TotalBeds           int64    `json:"total_beds"`
	OccupiedBeds        int64    `json:"occupied_beds"`
	AvailableBeds       int64    `json:"available_beds"`
	OccupancyPercentage *float64 `json:"occupancy_percentage"`
	CurrentPatients     int64    `json:"current_patients"`
	AvgDailyRate        *float64 `json:"avg_daily_rate"`
}

// MatchesOccupancy applies the occupancy_status post-filter. An empty or
// unknown status matches every ward.
func (w *WardOverview) MatchesOccupancy(status string) bool {
	switch status {
	case OccupancyFull:
		return w.AvailableBeds == 0
	case OccupancyAvailable:
		return w.AvailableBeds > 0
	case OccupancyCritical:
		return w.OccupancyPercentage != nil && *w.OccupancyPercentage >= CriticalOccupancy
	}
	return true
}

// BranchSummary rolls up beds per hospital branch.
type BranchSummary struct {
	HospitalID          int      `json:"hospital_id"`
	HospitalName        string   `json:"hospital_name"`
	TotalWards          int64    `json:"total_wards"`
	TotalBeds           int64    `json:"total_beds"`
	OccupiedBeds        int64    `json:"occupied_beds"`
	AvailableBeds       int64    `json:"available_beds"`
	OccupancyPercentage *float64 `json:"occupancy_percentage"`
}

// HospitalStats is the single aggregate row over bristol_park_overview.
// Sums are nil when the view is empty.
type HospitalStats struct {
	TotalWards                 int64    `json:"total_wards"`
	TotalBeds                  *int64   `json:"total_beds"`
	OccupiedBeds               *int64   `json:"total_occupied"`
	AvailableBeds              *int64   `json:"total_available"`
	OverallOccupancyPercentage *float64 `json:"overall_occupancy_percentage"`
	CurrentPatients            *int64   `json:"total_patients"`
}

// BedFilter narrows the bed details listing.
type BedFilter struct {
	WardID     *int
	Department string
	Status     string
}

// BedDetail is a row of bristol_park_bed_details.
type BedDetail struct {
	HospitalID    *int     `json:"hospital_id"`
	WardID        int      `json:"ward_id"`
	WardName      string   `json:"ward_name"`
	WardType      *string  `json:"ward_type"`
	BedID         int      `json:"bed_id"`
	BedNumber     string   `json:"bed_number"`
	BedStatus     string   `json:"bed_status"`
	PatientID     *int64   `json:"patient_id"`
	PatientName   *string  `json:"patient_name"`
	AdmissionDate *string  `json:"admission_date"`
	Diagnosis     *string  `json:"diagnosis"`
	DailyBedRate  *float64 `json:"daily_bed_rate"`
	LengthOfStay  *int     `json:"length_of_stay"`
}

// TransferFilter narrows the transferable patients listing.
type TransferFilter struct {
	WardID     *int
	Department string
}

// TransferablePatient is a currently admitted patient with a named record.
type TransferablePatient struct {
	AdmissionID       int64   `json:"admission_id"`
	PatientID         *int64  `json:"patient_id"`
	PatientName       string  `json:"patient_name"`
	Gender            *string `json:"patient_gender"`
	CurrentWardID     int     `json:"current_ward_id"`
	CurrentWardName   string  `json:"current_ward_name"`
	CurrentBedID      int     `json:"current_bed_id"`
	CurrentBedNumber  string  `json:"current_bed_number"`
	CurrentBranchID   int     `json:"current_branch_id"`
	CurrentBranchName string  `json:"current_branch_name"`
	Diagnosis         *string `json:"diagnosis"`
	DoctorAdmitting   *string `json:"doctor_admitting"`
	Department        *string `json:"admission_category_description"`
	LengthOfStay      *int    `json:"length_of_stay"`
}

// APIStatus answers the connectivity check.
type APIStatus struct {
	CurrentTime time.Time `json:"current_time"`
	Message     string    `json:"message"`
}
