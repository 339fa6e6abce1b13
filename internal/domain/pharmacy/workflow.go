package pharmacy

import "github.com/bristolpark/hmis/internal/platform/workflow"

// PrescriptionMachine allows partially_dispensed to repeat so each partial
// dispense is a recorded transition.
var PrescriptionMachine = workflow.New("pharmacy_prescription", StatusPending, map[Status][]Status{
	StatusPending:            {StatusPartiallyDispensed, StatusDispensed, StatusCancelled},
	StatusPartiallyDispensed: {StatusPartiallyDispensed, StatusDispensed, StatusReversed},
	StatusDispensed:          {StatusReversed},
}, StatusCancelled, StatusReversed)

var StockTakeMachine = workflow.New("pharmacy_stock_take", StockTakeInProgress, map[StockTakeStatus][]StockTakeStatus{
	StockTakeInProgress: {StockTakeCompleted},
}, StockTakeCompleted)

var TransferMachine = workflow.New("pharmacy_transfer", TransferPending, map[TransferStatus][]TransferStatus{
	TransferPending: {TransferCompleted, TransferCancelled},
}, TransferCompleted, TransferCancelled)

func medicationStatus(dispensed, quantity int) MedicationStatus {
	switch {
	case dispensed >= quantity:
		return MedDispensed
	case dispensed > 0:
		return MedPartiallyDispensed
	}
	return MedPending
}

// prescriptionStatus derives the header status from its lines.
func prescriptionStatus(meds []Medication) Status {
	all, some := len(meds) > 0, false
	for _, m := range meds {
		if m.Status != MedDispensed {
			all = false
		}
		if m.Status == MedDispensed || m.Status == MedPartiallyDispensed || m.Dispensed > 0 {
			some = true
		}
	}
	switch {
	case all:
		return StatusDispensed
	case some:
		return StatusPartiallyDispensed
	}
	return StatusPending
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
