package ambulance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAmbulanceUnavailable is returned when dispatching an ambulance that is
// not available, on standby or returning.
var ErrAmbulanceUnavailable = errors.New("ambulance is not available for dispatch")

// ErrAmbulanceOnCall is returned for a manual status change while the
// ambulance still has a call.
var ErrAmbulanceOnCall = errors.New("ambulance is assigned to an active call")

// ErrCrewUnavailable is returned when assigning crew that is off duty or
// already on another ambulance.
var ErrCrewUnavailable = errors.New("crew member is not available")

type AmbulanceStatus string

const (
	AmbulanceAvailable    AmbulanceStatus = "available"
	AmbulanceDispatched   AmbulanceStatus = "dispatched"
	AmbulanceEnRoute      AmbulanceStatus = "en_route"
	AmbulanceAtScene      AmbulanceStatus = "at_scene"
	AmbulanceTransporting AmbulanceStatus = "transporting"
	AmbulanceAtHospital   AmbulanceStatus = "at_hospital"
	AmbulanceReturning    AmbulanceStatus = "returning"
	AmbulanceOutOfService AmbulanceStatus = "out_of_service"
	AmbulanceStandby      AmbulanceStatus = "standby"
)

type AmbulanceType string

const (
	TypeBasic     AmbulanceType = "basic"
	TypeAdvanced  AmbulanceType = "advanced"
	TypeCritical  AmbulanceType = "critical"
	TypeNeonatal  AmbulanceType = "neonatal"
	TypeBariatric AmbulanceType = "bariatric"
)

func (t AmbulanceType) Valid() bool {
	switch t {
	case TypeBasic, TypeAdvanced, TypeCritical, TypeNeonatal, TypeBariatric:
		return true
	}
	return false
}

type CallPriority string

const (
	PriorityEmergency CallPriority = "emergency"
	PriorityUrgent    CallPriority = "urgent"
	PriorityNonUrgent CallPriority = "non_urgent"
	PriorityScheduled CallPriority = "scheduled"
)

func (p CallPriority) Valid() bool {
	switch p {
	case PriorityEmergency, PriorityUrgent, PriorityNonUrgent, PriorityScheduled:
		return true
	}
	return false
}

type CallStatus string

const (
	CallPending      CallStatus = "pending"
	CallDispatched   CallStatus = "dispatched"
	CallEnRoute      CallStatus = "en_route"
	CallAtScene      CallStatus = "at_scene"
	CallTransporting CallStatus = "transporting"
	CallAtHospital   CallStatus = "at_hospital"
	CallCompleted    CallStatus = "completed"
	CallCancelled    CallStatus = "cancelled"
)

// ActiveCallStatuses are the statuses of calls still being worked.
var ActiveCallStatuses = []CallStatus{CallPending, CallDispatched, CallEnRoute, CallAtScene, CallTransporting, CallAtHospital}

type CrewRole string

const (
	RoleDriver    CrewRole = "driver"
	RoleEMT       CrewRole = "emt"
	RoleParamedic CrewRole = "paramedic"
	RoleNurse     CrewRole = "nurse"
	RoleDoctor    CrewRole = "doctor"
)

func (r CrewRole) Valid() bool {
	switch r {
	case RoleDriver, RoleEMT, RoleParamedic, RoleNurse, RoleDoctor:
		return true
	}
	return false
}

type CrewStatus string

const (
	CrewOnDuty  CrewStatus = "on_duty"
	CrewOffDuty CrewStatus = "off_duty"
	CrewOnLeave CrewStatus = "on_leave"
	CrewStandby CrewStatus = "standby"
)

func (s CrewStatus) Valid() bool {
	switch s {
	case CrewOnDuty, CrewOffDuty, CrewOnLeave, CrewStandby:
		return true
	}
	return false
}

type MaintenanceType string

const (
	MaintenanceRoutine    MaintenanceType = "routine"
	MaintenanceRepair     MaintenanceType = "repair"
	MaintenanceInspection MaintenanceType = "inspection"
	MaintenanceCleaning   MaintenanceType = "cleaning"
)

func (t MaintenanceType) Valid() bool {
	switch t {
	case MaintenanceRoutine, MaintenanceRepair, MaintenanceInspection, MaintenanceCleaning:
		return true
	}
	return false
}

type MaintenanceStatus string

const (
	MaintenanceScheduled  MaintenanceStatus = "scheduled"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceCancelled  MaintenanceStatus = "cancelled"
)

// Location is a GPS fix with an optional street address.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Equipment struct {
	Oxygen        bool `json:"oxygen"`
	Stretcher     bool `json:"stretcher"`
	Defibrillator bool `json:"defibrillator"`
	FirstAidKit   bool `json:"first_aid_kit"`
	Medications   bool `json:"medications"`
}

// EquipmentUpdate is a partial equipment change; nil fields are kept.
type EquipmentUpdate struct {
	Oxygen        *bool `json:"oxygen"`
	Stretcher     *bool `json:"stretcher"`
	Defibrillator *bool `json:"defibrillator"`
	FirstAidKit   *bool `json:"first_aid_kit"`
	Medications   *bool `json:"medications"`
}

func (u EquipmentUpdate) apply(e *Equipment) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&e.Oxygen, u.Oxygen)
	set(&e.Stretcher, u.Stretcher)
	set(&e.Defibrillator, u.Defibrillator)
	set(&e.FirstAidKit, u.FirstAidKit)
	set(&e.Medications, u.Medications)
}

type Ambulance struct {
	ID              uuid.UUID       `json:"id"`
	VehicleNumber   string          `json:"vehicle_number"`
	LicensePlate    string          `json:"license_plate"`
	Type            AmbulanceType   `json:"type"`
	Status          AmbulanceStatus `json:"status"`
	CurrentLocation *Location       `json:"current_location,omitempty"`
	BaseLocation    string          `json:"base_location"`
	Make            string          `json:"make"`
	Model           string          `json:"model"`
	Year            int             `json:"year"`
	Mileage         int             `json:"mileage"`
	FuelLevel       int             `json:"fuel_level"`
	Equipment       Equipment       `json:"equipment_status"`
	Crew            []uuid.UUID     `json:"crew"`
	CurrentCall     *uuid.UUID      `json:"current_call,omitempty"`
	LastMaintenance *time.Time      `json:"last_maintenance,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	BranchID        int             `json:"branch_id"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
}

type Shift struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Certification struct {
	Name       string    `json:"name"`
	IssuedDate time.Time `json:"issued_date"`
	ExpiryDate time.Time `json:"expiry_date"`
	IsValid    bool      `json:"is_valid"`
}

type CrewMember struct {
	ID               uuid.UUID       `json:"id"`
	StaffID          string          `json:"staff_id"`
	Name             string          `json:"name"`
	Role             CrewRole        `json:"role"`
	Qualification    string          `json:"qualification"`
	ContactNumber    string          `json:"contact_number"`
	Email            string          `json:"email,omitempty"`
	Status           CrewStatus      `json:"status"`
	CurrentAmbulance *uuid.UUID      `json:"current_ambulance,omitempty"`
	CurrentShift     *Shift          `json:"current_shift,omitempty"`
	Certifications   []Certification `json:"certifications"`
	Notes            *string         `json:"notes,omitempty"`
	BranchID         int             `json:"branch_id"`
	CreatedAt        time.Time       `json:"created_at"`
	LastUpdatedAt    time.Time       `json:"last_updated_at"`
}

type Caller struct {
	Name          string `json:"name"`
	ContactNumber string `json:"contact_number"`
	Relationship  string `json:"relationship,omitempty"`
}

type CallPatient struct {
	Name           string   `json:"name"`
	Age            *int     `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	ChiefComplaint string   `json:"chief_complaint,omitempty"`
	MedicalHistory []string `json:"medical_history,omitempty"`
	PatientID      string   `json:"patient_id,omitempty"`
}

// Place is a pickup location or destination.
type Place struct {
	Name      string   `json:"name,omitempty"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

type VitalSigns struct {
	Time             time.Time `json:"time"`
	BloodPressure    string    `json:"blood_pressure,omitempty"`
	HeartRate        *int      `json:"heart_rate,omitempty"`
	RespiratoryRate  *int      `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int      `json:"oxygen_saturation,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	GlucoseLevel     *float64  `json:"glucose_level,omitempty"`
	PainScore        *int      `json:"pain_score,omitempty"`
}

type Treatment struct {
	Time      time.Time `json:"time"`
	Treatment string    `json:"treatment"`
	Provider  string    `json:"provider"`
	Notes     string    `json:"notes,omitempty"`
}

type Call struct {
	ID                  uuid.UUID    `json:"id"`
	CallNumber          string       `json:"call_number"`
	CallTime            time.Time    `json:"call_time"`
	Priority            CallPriority `json:"priority"`
	Status              CallStatus   `json:"status"`
	Caller              Caller       `json:"caller"`
	Patient             *CallPatient `json:"patient,omitempty"`
	Location            Place        `json:"location"`
	Destination         *Place       `json:"destination,omitempty"`
	DispatchedAmbulance *uuid.UUID   `json:"dispatched_ambulance,omitempty"`
	DispatchedCrew      []uuid.UUID  `json:"dispatched_crew"`
	DispatchTime        *time.Time   `json:"dispatch_time,omitempty"`
	ArrivalTime         *time.Time   `json:"arrival_time,omitempty"`
	DepartureTime       *time.Time   `json:"departure_time,omitempty"`
	HospitalArrivalTime *time.Time   `json:"hospital_arrival_time,omitempty"`
	CompletionTime      *time.Time   `json:"completion_time,omitempty"`
	VitalSigns          []VitalSigns `json:"vital_signs"`
	Treatments          []Treatment  `json:"treatments"`
	Notes               *string      `json:"notes,omitempty"`
	BranchID            int          `json:"branch_id"`
	CreatedAt           time.Time    `json:"created_at"`
	LastUpdatedAt       time.Time    `json:"last_updated_at"`
}

type Maintenance struct {
	ID             uuid.UUID         `json:"id"`
	AmbulanceID    uuid.UUID         `json:"ambulance_id"`
	Type           MaintenanceType   `json:"type"`
	Status         MaintenanceStatus `json:"status"`
	Description    string            `json:"description"`
	ScheduledDate  time.Time         `json:"scheduled_date"`
	StartDate      *time.Time        `json:"start_date,omitempty"`
	CompletionDate *time.Time        `json:"completion_date,omitempty"`
	PerformedBy    *string           `json:"performed_by,omitempty"`
	Cost           *float64          `json:"cost,omitempty"`
	Notes          *string           `json:"notes,omitempty"`
	BranchID       int               `json:"branch_id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastUpdatedAt  time.Time         `json:"last_updated_at"`
}

type AmbulanceFilter struct {
	Status AmbulanceStatus
	Type   AmbulanceType
}

type CrewFilter struct {
	Status CrewStatus
	Role   CrewRole
	// Unassigned keeps only crew with no current ambulance.
	Unassigned bool
}

type CallFilter struct {
	Status   CallStatus
	Priority CallPriority
	// Active keeps only calls in ActiveCallStatuses.
	Active bool
}

type MaintenanceFilter struct {
	AmbulanceID *uuid.UUID
	Status      MaintenanceStatus
}

// DashboardStats is the fleet overview.
type DashboardStats struct {
	TotalAmbulances     int                     `json:"total_ambulances"`
	ByStatus            map[AmbulanceStatus]int `json:"by_status"`
	ActiveCalls         int                     `json:"active_calls"`
	AvailableCrew       int                     `json:"available_crew"`
	UpcomingMaintenance int                     `json:"upcoming_maintenance"`
}

func appendNote(notes *string, line string) *string {
	if notes == nil || *notes == "" {
		return &line
	}
	s := *notes + "\n" + line
	return &s
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
