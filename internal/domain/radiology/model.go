package radiology

import (
	"time"

	"github.com/google/uuid"
)

// Status is shared by requests and their test lines.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PatientType string

const (
	PatientOutpatient PatientType = "outpatient"
	PatientInpatient  PatientType = "inpatient"
	PatientWalkIn     PatientType = "walkin"
)

func (t PatientType) Valid() bool {
	switch t {
	case PatientOutpatient, PatientInpatient, PatientWalkIn:
		return true
	}
	return false
}

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

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentInsurance PaymentStatus = "insurance"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentInsurance:
		return true
	}
	return false
}

// Test is a catalogue entry. Duration is in minutes.
type Test struct {
	ID                      uuid.UUID `json:"id"`
	Name                    string    `json:"name"`
	Category                string    `json:"category"`
	Description             string    `json:"description,omitempty"`
	Price                   float64   `json:"price"`
	PreparationInstructions string    `json:"preparation_instructions,omitempty"`
	Duration                *int      `json:"duration,omitempty"`
	Active                  bool      `json:"active"`
	CreatedAt               time.Time `json:"created_at"`
	LastUpdatedAt           time.Time `json:"last_updated_at"`
}

// TestUpdate is a partial catalogue change; nil fields are kept.
type TestUpdate struct {
	Name                    *string  `json:"name"`
	Category                *string  `json:"category"`
	Description             *string  `json:"description"`
	Price                   *float64 `json:"price"`
	PreparationInstructions *string  `json:"preparation_instructions"`
	Duration                *int     `json:"duration"`
	Active                  *bool    `json:"active"`
}

// TestLine is one ordered examination within a request.
type TestLine struct {
	ID           uuid.UUID  `json:"id"`
	TestID       uuid.UUID  `json:"test_id"`
	TestName     string     `json:"test_name"`
	Status       Status     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	ReportText   string     `json:"report_text,omitempty"`
	ReportImages []string   `json:"report_images,omitempty"`
	CompletedBy  string     `json:"completed_by,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Request struct {
	ID                    uuid.UUID     `json:"id"`
	PatientID             string        `json:"patient_id"`
	PatientName           string        `json:"patient_name"`
	PatientType           PatientType   `json:"patient_type"`
	DoctorID              string        `json:"doctor_id,omitempty"`
	DoctorName            string        `json:"doctor_name,omitempty"`
	RequestDate           time.Time     `json:"request_date"`
	RequestTime           string        `json:"request_time"`
	Status                Status        `json:"status"`
	Priority              Priority      `json:"priority"`
	Tests                 []TestLine    `json:"tests"`
	ClinicalNotes         *string       `json:"clinical_notes,omitempty"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	InsuranceProvider     *string       `json:"insurance_provider,omitempty"`
	InsurancePolicyNumber *string       `json:"insurance_policy_number,omitempty"`
	ScheduledDate         *time.Time    `json:"scheduled_date,omitempty"`
	ScheduledTime         *string       `json:"scheduled_time,omitempty"`
	CancelReason          *string       `json:"cancel_reason,omitempty"`
	BranchID              int           `json:"branch_id"`
	CreatedAt             time.Time     `json:"created_at"`
	LastUpdatedAt         time.Time     `json:"last_updated_at"`
}

func (r *Request) line(id uuid.UUID) *TestLine {
	for i := range r.Tests {
		if r.Tests[i].ID == id {
			return &r.Tests[i]
		}
	}
	return nil
}

// ExternalPatient is a walk-in referral with no hospital record.
type ExternalPatient struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Gender           string    `json:"gender"`
	Age              int       `json:"age"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email,omitempty"`
	IDNumber         string    `json:"id_number,omitempty"`
	ReferredBy       string    `json:"referred_by,omitempty"`
	ReferralFacility string    `json:"referral_facility,omitempty"`
	RegistrationDate time.Time `json:"registration_date"`
	CreatedAt        time.Time `json:"created_at"`
}

type TestFilter struct {
	Category string
	Active   *bool
}

type RequestFilter struct {
	Status    Status
	PatientID string
	Date      *time.Time
}

type ExternalPatientFilter struct {
	Search string
}

type DashboardStats struct {
	Total           int            `json:"total"`
	Today           int            `json:"today"`
	ByStatus        map[Status]int `json:"by_status"`
	AwaitingPayment int            `json:"awaiting_payment"`
	ScheduledToday  int            `json:"scheduled_today"`
}
