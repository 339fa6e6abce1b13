// Package clinical runs the outpatient queue: token issue at registration,
// triage vitals, doctor consultation, lab orders and hand-off to pharmacy or
// admission.
package clinical

import (
	"time"

	"github.com/google/uuid"
)

type PatientStatus string

const (
	StatusRegistered    PatientStatus = "registered"
	StatusWaitingVitals PatientStatus = "waiting_vitals"
	StatusVitalsTaken   PatientStatus = "vitals_taken"
	StatusWithDoctor    PatientStatus = "with_doctor"
	StatusLabOrdered    PatientStatus = "lab_ordered"
	StatusLabCompleted  PatientStatus = "lab_completed"
	StatusPharmacy      PatientStatus = "pharmacy"
	StatusAdmission     PatientStatus = "admission"
	StatusCompleted     PatientStatus = "completed"
	StatusCancelled     PatientStatus = "cancelled"
)

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

type LabTestStatus string

const (
	LabOrdered         LabTestStatus = "ordered"
	LabSampleCollected LabTestStatus = "sample_collected"
	LabProcessing      LabTestStatus = "processing"
	LabCompleted       LabTestStatus = "completed"
	LabCancelled       LabTestStatus = "cancelled"
)

// Vitals is a triage reading. BMI is derived when height (cm) and weight
// (kg) are both given.
type Vitals struct {
	Temperature            float64   `json:"temperature"`
	BloodPressureSystolic  int       `json:"blood_pressure_systolic"`
	BloodPressureDiastolic int       `json:"blood_pressure_diastolic"`
	PulseRate              int       `json:"pulse_rate"`
	RespiratoryRate        int       `json:"respiratory_rate"`
	OxygenSaturation       int       `json:"oxygen_saturation"`
	Height                 *float64  `json:"height,omitempty"`
	Weight                 *float64  `json:"weight,omitempty"`
	BMI                    *float64  `json:"bmi,omitempty"`
	Notes                  string    `json:"notes,omitempty"`
	RecordedBy             string    `json:"recorded_by"`
	RecordedAt             time.Time `json:"recorded_at"`
}

type LabTest struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	Status           LabTestStatus `json:"status"`
	OrderedBy        string        `json:"ordered_by"`
	OrderedAt        time.Time     `json:"ordered_at"`
	Results          string        `json:"results,omitempty"`
	ResultUploadedBy string        `json:"result_uploaded_by,omitempty"`
	ResultUploadedAt *time.Time    `json:"result_uploaded_at,omitempty"`
}

type Medication struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	Duration     string    `json:"duration"`
	Instructions string    `json:"instructions,omitempty"`
}

type Diagnosis struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	ICDCode     string    `json:"icd_code,omitempty"`
}

// QueueEntry is one patient visit. TokenNumber is unique within QueueDate.
type QueueEntry struct {
	ID                uuid.UUID     `json:"id"`
	PatientID         string        `json:"patient_id"`
	PatientName       string        `json:"patient_name"`
	TokenNumber       int           `json:"token_number"`
	QueueDate         time.Time     `json:"queue_date"`
	Status            PatientStatus `json:"status"`
	Priority          Priority      `json:"priority"`
	DoctorID          *string       `json:"doctor_id,omitempty"`
	DoctorName        *string       `json:"doctor,omitempty"`
	RegisteredAt      time.Time     `json:"registered_at"`
	EstimatedWaitTime int           `json:"estimated_wait_time"`
	Vitals            *Vitals       `json:"vitals,omitempty"`
	LabTests          []LabTest     `json:"lab_tests"`
	Medications       []Medication  `json:"medications"`
	Diagnoses         []Diagnosis   `json:"diagnosis"`
	ChiefComplaints   string        `json:"chief_complaints,omitempty"`
	Notes             *string       `json:"notes,omitempty"`
	BranchID          int           `json:"branch_id"`
	CreatedAt         time.Time     `json:"created_at"`
	LastUpdatedAt     time.Time     `json:"last_updated_at"`
}

func (e *QueueEntry) labTest(id uuid.UUID) *LabTest {
	for i := range e.LabTests {
		if e.LabTests[i].ID == id {
			return &e.LabTests[i]
		}
	}
	return nil
}

type QueueFilter struct {
	Status    PatientStatus
	DoctorID  string
	PatientID string
	Date      *time.Time
}

// TokenBoard is what the waiting-room display shows.
type TokenBoard struct {
	Date       string        `json:"date"`
	LastToken  int64         `json:"last_token"`
	NowServing []*QueueEntry `json:"now_serving"`
	Waiting    int           `json:"waiting"`
}
