// Package pharmacy handles prescriptions, dispensing against inventory and
// the stock ledger behind it: movements, stock takes and branch transfers.
package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusPartiallyDispensed Status = "partially_dispensed"
	StatusDispensed          Status = "dispensed"
	StatusCancelled          Status = "cancelled"
	StatusReversed           Status = "reversed"
)

type MedicationStatus string

const (
	MedPending            MedicationStatus = "pending"
	MedDispensed          MedicationStatus = "dispensed"
	MedPartiallyDispensed MedicationStatus = "partially_dispensed"
	MedOutOfStock         MedicationStatus = "out_of_stock"
	MedCancelled          MedicationStatus = "cancelled"
)

type PatientType string

const (
	PatientOutpatient PatientType = "outpatient"
	PatientInpatient  PatientType = "inpatient"
	PatientWalkIn     PatientType = "walkin"
)

func (p PatientType) Valid() bool {
	switch p {
	case PatientOutpatient, PatientInpatient, PatientWalkIn:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentInsurance PaymentStatus = "insurance"
	PaymentWaived    PaymentStatus = "waived"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentInsurance, PaymentWaived:
		return true
	}
	return false
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
)

type StockTakeStatus string

const (
	StockTakeInProgress StockTakeStatus = "in_progress"
	StockTakeCompleted  StockTakeStatus = "completed"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

type TransferType string

const (
	TransferInternal TransferType = "internal"
	TransferExternal TransferType = "external"
)

// Medication is one line of a prescription. InventoryID is resolved by name
// when the prescription is created, if the branch stocks it.
type Medication struct {
	ID           uuid.UUID        `json:"id"`
	InventoryID  *uuid.UUID       `json:"inventory_id,omitempty"`
	Name         string           `json:"name"`
	Dosage       string           `json:"dosage"`
	Frequency    string           `json:"frequency"`
	Duration     string           `json:"duration"`
	Instructions string           `json:"instructions,omitempty"`
	Quantity     int              `json:"quantity"`
	Dispensed    int              `json:"dispensed"`
	Status       MedicationStatus `json:"status"`
	Notes        string           `json:"notes,omitempty"`
}

// Prescription IDs are UUID strings, except walk-ins which carry an RX
// prefix.
type Prescription struct {
	ID                    string        `json:"id"`
	PatientID             string        `json:"patient_id"`
	PatientName           string        `json:"patient_name"`
	TokenNumber           *int          `json:"token_number,omitempty"`
	DoctorID              string        `json:"doctor_id"`
	DoctorName            string        `json:"doctor_name"`
	Medications           []Medication  `json:"medications"`
	Status                Status        `json:"status"`
	PatientType           PatientType   `json:"patient_type"`
	IsWalkIn              bool          `json:"is_walk_in"`
	IsConfirmed           bool          `json:"is_confirmed"`
	ConfirmedBy           *string       `json:"confirmed_by,omitempty"`
	ConfirmedAt           *time.Time    `json:"confirmed_at,omitempty"`
	DispensedBy           *string       `json:"dispensed_by,omitempty"`
	DispensedAt           *time.Time    `json:"dispensed_at,omitempty"`
	PaymentStatus         PaymentStatus `json:"payment_status"`
	InsuranceProvider     *string       `json:"insurance_provider,omitempty"`
	InsurancePolicyNumber *string       `json:"insurance_policy_number,omitempty"`
	TotalAmount           float64       `json:"total_amount"`
	Notes                 string        `json:"notes,omitempty"`
	BranchID              int           `json:"branch_id"`
	CreatedAt             time.Time     `json:"created_at"`
	LastUpdatedAt         time.Time     `json:"last_updated_at"`
}

type PrescriptionFilter struct {
	Status      Status
	PatientID   string
	PatientType PatientType
}

type InventoryItem struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	GenericName    string    `json:"generic_name"`
	Category       string    `json:"category"`
	DosageForm     string    `json:"dosage_form"`
	Strength       string    `json:"strength"`
	Manufacturer   string    `json:"manufacturer"`
	BatchNumber    string    `json:"batch_number"`
	ExpiryDate     time.Time `json:"expiry_date"`
	Quantity       int       `json:"quantity"`
	ReorderLevel   int       `json:"reorder_level"`
	UnitPrice      float64   `json:"unit_price"`
	Location       string    `json:"location"`
	BranchID       int       `json:"branch_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
	IsExpired      bool      `json:"is_expired,omitempty"`
	IsExpiringSoon bool      `json:"is_expiring_soon,omitempty"`
}

// InventoryUpdate changes item details. Quantity moves only through the
// stock ledger.
type InventoryUpdate struct {
	Name         *string    `json:"name"`
	GenericName  *string    `json:"generic_name"`
	Category     *string    `json:"category"`
	DosageForm   *string    `json:"dosage_form"`
	Strength     *string    `json:"strength"`
	Manufacturer *string    `json:"manufacturer"`
	BatchNumber  *string    `json:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date"`
	ReorderLevel *int       `json:"reorder_level"`
	UnitPrice    *float64   `json:"unit_price"`
	Location     *string    `json:"location"`
}

type InventoryFilter struct {
	Category string
	Location string
	Search   string
}

// StockMovement is one ledger line. Adjustments carry a signed quantity;
// every other type is positive.
type StockMovement struct {
	ID           uuid.UUID    `json:"id"`
	ItemID       uuid.UUID    `json:"item_id"`
	ItemName     string       `json:"item_name"`
	Type         MovementType `json:"type"`
	Quantity     int          `json:"quantity"`
	FromLocation *string      `json:"from_location,omitempty"`
	ToLocation   *string      `json:"to_location,omitempty"`
	Reason       string       `json:"reason"`
	PerformedBy  string       `json:"performed_by"`
	PerformedAt  time.Time    `json:"performed_at"`
	Reference    string       `json:"reference,omitempty"`
}

type MovementFilter struct {
	ItemID *uuid.UUID
	Type   MovementType
	From   *time.Time
	To     *time.Time
}

// MovementSummary reports one item's ledger over a period. Adjusted is the
// net quantity taken out by adjustments, negative when they added stock.
type MovementSummary struct {
	ItemID         uuid.UUID `json:"item_id"`
	ItemName       string    `json:"item_name"`
	OpeningBalance int       `json:"opening_balance"`
	Received       int       `json:"received"`
	Dispensed      int       `json:"dispensed"`
	Adjusted       int       `json:"adjusted"`
	Transferred    int       `json:"transferred"`
	ClosingBalance int       `json:"closing_balance"`
}

type StockTakeItem struct {
	ItemID           uuid.UUID `json:"item_id"`
	ItemName         string    `json:"item_name"`
	ExpectedQuantity int       `json:"expected_quantity"`
	ActualQuantity   *int      `json:"actual_quantity,omitempty"`
	Discrepancy      int       `json:"discrepancy"`
	Notes            string    `json:"notes,omitempty"`
}

type StockTake struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Status      StockTakeStatus `json:"status"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	Location    string          `json:"location"`
	ConductedBy string          `json:"conducted_by"`
	Items       []StockTakeItem `json:"items"`
	Notes       string          `json:"notes,omitempty"`
	BranchID    int             `json:"branch_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (st *StockTake) item(id uuid.UUID) *StockTakeItem {
	for i := range st.Items {
		if st.Items[i].ItemID == id {
			return &st.Items[i]
		}
	}
	return nil
}

type TransferItem struct {
	ItemID   uuid.UUID `json:"item_id"`
	ItemName string    `json:"item_name"`
	Quantity int       `json:"quantity"`
}

type Transfer struct {
	ID           uuid.UUID      `json:"id"`
	TransferType TransferType   `json:"transfer_type"`
	FromBranchID int            `json:"from_branch_id"`
	ToBranchID   int            `json:"to_branch_id"`
	FromLocation string         `json:"from_location"`
	ToLocation   string         `json:"to_location"`
	Items        []TransferItem `json:"items"`
	Status       TransferStatus `json:"status"`
	RequestedBy  string         `json:"requested_by"`
	RequestedAt  time.Time      `json:"requested_at"`
	CompletedBy  *string        `json:"completed_by,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}
