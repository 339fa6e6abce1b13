package bloodbank

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIncompatibleUnit = errors.New("blood unit is not compatible with the recipient")
	ErrQuantityExceeded = errors.New("assigned units exceed the requested quantity")
	ErrUnitNotAssigned  = errors.New("blood unit is not assigned to the request")
)

type BloodType string

const (
	APos  BloodType = "A+"
	ANeg  BloodType = "A-"
	BPos  BloodType = "B+"
	BNeg  BloodType = "B-"
	ABPos BloodType = "AB+"
	ABNeg BloodType = "AB-"
	OPos  BloodType = "O+"
	ONeg  BloodType = "O-"
)

// BloodTypes lists every blood type in display order.
var BloodTypes = []BloodType{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

func (b BloodType) Valid() bool {
	_, ok := compatibility[b]
	return ok
}

type ProductType string

const (
	WholeBlood      ProductType = "whole_blood"
	PackedRedCells  ProductType = "packed_red_cells"
	Platelets       ProductType = "platelets"
	Plasma          ProductType = "plasma"
	Cryoprecipitate ProductType = "cryoprecipitate"
)

var ProductTypes = []ProductType{WholeBlood, PackedRedCells, Platelets, Plasma, Cryoprecipitate}

func (p ProductType) Valid() bool {
	for _, v := range ProductTypes {
		if v == p {
			return true
		}
	}
	return false
}

type UnitStatus string

const (
	UnitAvailable    UnitStatus = "available"
	UnitReserved     UnitStatus = "reserved"
	UnitCrossmatched UnitStatus = "crossmatched"
	UnitIssued       UnitStatus = "issued"
	UnitTransfused   UnitStatus = "transfused"
	UnitExpired      UnitStatus = "expired"
	UnitDiscarded    UnitStatus = "discarded"
)

type DonorStatus string

const (
	DonorActive            DonorStatus = "active"
	DonorDeferred          DonorStatus = "deferred"
	DonorPermanentDeferral DonorStatus = "permanent_deferral"
)

func (s DonorStatus) Valid() bool {
	return s == DonorActive || s == DonorDeferred || s == DonorPermanentDeferral
}

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestApproved   RequestStatus = "approved"
	RequestProcessing RequestStatus = "processing"
	RequestReady      RequestStatus = "ready"
	RequestIssued     RequestStatus = "issued"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

func (u Urgency) Valid() bool {
	return u == UrgencyRoutine || u == UrgencyUrgent || u == UrgencyEmergency
}

type CrossmatchOutcome string

const (
	Compatible   CrossmatchOutcome = "compatible"
	Incompatible CrossmatchOutcome = "incompatible"
)

// Unit is one bag of blood or blood product.
type Unit struct {
	ID              uuid.UUID   `json:"id"`
	UnitNumber      string      `json:"unit_number"`
	BloodType       BloodType   `json:"blood_type"`
	ProductType     ProductType `json:"product_type"`
	DonationDate    time.Time   `json:"donation_date"`
	ExpiryDate      time.Time   `json:"expiry_date"`
	Volume          int         `json:"volume"`
	Status          UnitStatus  `json:"status"`
	DonorID         *uuid.UUID  `json:"donor_id,omitempty"`
	Location        string      `json:"location"`
	CrossmatchedFor *string     `json:"crossmatched_for,omitempty"`
	ReservedFor     *string     `json:"reserved_for,omitempty"`
	IssuedTo        *string     `json:"issued_to,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	BranchID        int         `json:"branch_id"`
	CreatedAt       time.Time   `json:"created_at"`
	LastUpdatedAt   time.Time   `json:"last_updated_at"`
}

// appendNote adds line to notes, separated by a newline.
func appendNote(notes *string, line string) *string {
	if notes == nil || *notes == "" {
		return &line
	}
	s := *notes + "\n" + line
	return &s
}

// Donation is one recorded donation by a donor.
type Donation struct {
	ID          uuid.UUID   `json:"id"`
	Date        time.Time   `json:"date"`
	ProductType ProductType `json:"product_type"`
	UnitID      *uuid.UUID  `json:"unit_id,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

type Donor struct {
	ID               uuid.UUID   `json:"id"`
	DonorNumber      string      `json:"donor_number"`
	Name             string      `json:"name"`
	BloodType        BloodType   `json:"blood_type"`
	Gender           string      `json:"gender,omitempty"`
	DateOfBirth      *time.Time  `json:"date_of_birth,omitempty"`
	ContactNumber    string      `json:"contact_number,omitempty"`
	Email            string      `json:"email,omitempty"`
	Address          string      `json:"address,omitempty"`
	Status           DonorStatus `json:"status"`
	LastDonationDate *time.Time  `json:"last_donation_date,omitempty"`
	DeferralReason   *string     `json:"deferral_reason,omitempty"`
	DeferralUntil    *time.Time  `json:"deferral_until,omitempty"`
	MedicalHistory   []string    `json:"medical_history"`
	Notes            *string     `json:"notes,omitempty"`
	Donations        []Donation  `json:"donations"`
	CreatedAt        time.Time   `json:"created_at"`
	LastUpdatedAt    time.Time   `json:"last_updated_at"`
}

// ProductLine is one requested product with the units assigned to it.
type ProductLine struct {
	ProductType ProductType `json:"product_type"`
	BloodType   BloodType   `json:"blood_type"`
	Quantity    int         `json:"quantity"`
	UnitIDs     []uuid.UUID `json:"units_issued"`
}

func (l *ProductLine) hasUnit(id uuid.UUID) bool {
	for _, u := range l.UnitIDs {
		if u == id {
			return true
		}
	}
	return false
}

func (l *ProductLine) removeUnit(id uuid.UUID) bool {
	for i, u := range l.UnitIDs {
		if u == id {
			l.UnitIDs = append(l.UnitIDs[:i], l.UnitIDs[i+1:]...)
			return true
		}
	}
	return false
}

type CrossmatchResult struct {
	UnitID      uuid.UUID         `json:"unit_id"`
	Result      CrossmatchOutcome `json:"result"`
	PerformedBy string            `json:"performed_by"`
	PerformedAt time.Time         `json:"performed_at"`
	Notes       string            `json:"notes,omitempty"`
}

type Request struct {
	ID                uuid.UUID          `json:"id"`
	RequestNumber     string             `json:"request_number"`
	RequestDate       time.Time          `json:"request_date"`
	RequestedBy       string             `json:"requested_by"`
	Department        string             `json:"department"`
	PatientID         *string            `json:"patient_id,omitempty"`
	PatientName       *string            `json:"patient_name,omitempty"`
	PatientBloodType  *BloodType         `json:"patient_blood_type,omitempty"`
	Diagnosis         *string            `json:"diagnosis,omitempty"`
	Urgency           Urgency            `json:"urgency"`
	Status            RequestStatus      `json:"status"`
	Products          []ProductLine      `json:"products"`
	CrossmatchResults []CrossmatchResult `json:"crossmatch_results"`
	ApprovedBy        *string            `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time         `json:"approved_at,omitempty"`
	IssuedBy          *string            `json:"issued_by,omitempty"`
	IssuedAt          *time.Time         `json:"issued_at,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
	BranchID          int                `json:"branch_id"`
	CreatedAt         time.Time          `json:"created_at"`
	LastUpdatedAt     time.Time          `json:"last_updated_at"`
}

// recipient identifies who units are held for: the patient when known,
// otherwise the requesting department.
func (r *Request) recipient() string {
	if r.PatientID != nil && *r.PatientID != "" {
		return *r.PatientID
	}
	return r.Department
}

func (r *Request) line(pt ProductType) *ProductLine {
	for i := range r.Products {
		if r.Products[i].ProductType == pt {
			return &r.Products[i]
		}
	}
	return nil
}

// dropUnit removes id from whichever line holds it.
func (r *Request) dropUnit(id uuid.UUID) bool {
	removed := false
	for i := range r.Products {
		if r.Products[i].removeUnit(id) {
			removed = true
		}
	}
	return removed
}

// assignedUnits returns every unit id across all product lines.
func (r *Request) assignedUnits() []uuid.UUID {
	var ids []uuid.UUID
	for _, l := range r.Products {
		ids = append(ids, l.UnitIDs...)
	}
	return ids
}

// UnitFilter narrows unit listings. Zero values match everything.
type UnitFilter struct {
	BloodType   BloodType
	ProductType ProductType
	Status      UnitStatus
	DonorID     *uuid.UUID
}

type DonorFilter struct {
	BloodType BloodType
	Status    DonorStatus
	Search    string
}

type RequestFilter struct {
	Status     RequestStatus
	Department string
	PatientID  string
	Urgency    Urgency
}

// InventoryCount is the number of available units of one pair.
type InventoryCount struct {
	BloodType   BloodType   `json:"blood_type"`
	ProductType ProductType `json:"product_type"`
	Count       int         `json:"count"`
}
