package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
	"github.com/bristolpark/hmis/internal/platform/notification"
	"github.com/bristolpark/hmis/internal/platform/telemetry"
	"github.com/bristolpark/hmis/internal/platform/websocket"
)

const EventPrescriptionCreated = "prescription.created"

var (
	ErrOutOfStock         = errors.New("insufficient stock")
	ErrAlreadyDispensed   = errors.New("medication already dispensed")
	ErrAlreadyConfirmed   = errors.New("prescription already confirmed")
	ErrPrescriptionClosed = errors.New("prescription is closed")
	ErrStockTakeClosed    = errors.New("stock take is closed")
)

type Service struct {
	prescriptions PrescriptionRepository
	inventory     InventoryRepository
	movements     MovementRepository
	stockTakes    StockTakeRepository
	transfers     TransferRepository

	tx        db.Transactor
	publisher websocket.EventPublisher
	notifier  notification.Notifier
	metrics   telemetry.Recorder
	now       func() time.Time
}

func NewService(prescriptions PrescriptionRepository, inventory InventoryRepository, movements MovementRepository,
	stockTakes StockTakeRepository, transfers TransferRepository) *Service {
	return &Service{
		prescriptions: prescriptions,
		inventory:     inventory,
		movements:     movements,
		stockTakes:    stockTakes,
		transfers:     transfers,
		publisher:     websocket.NopPublisher{},
		metrics:       telemetry.NopRecorder{},
		now:           time.Now,
	}
}

func (s *Service) SetTransactor(tx db.Transactor)          { s.tx = tx }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetNotifier(n notification.Notifier)     { s.notifier = n }
func (s *Service) SetRecorder(r telemetry.Recorder)        { s.metrics = r }

// -- Prescriptions --

func (s *Service) validatePrescription(rx *Prescription) error {
	if strings.TrimSpace(rx.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if len(rx.Medications) == 0 {
		return fmt.Errorf("at least one medication is required")
	}
	for i, m := range rx.Medications {
		if strings.TrimSpace(m.Name) == "" || m.Dosage == "" || m.Frequency == "" {
			return fmt.Errorf("medication %d: name, dosage and frequency are required", i+1)
		}
		if m.Quantity <= 0 {
			return fmt.Errorf("medication %d: quantity must be positive", i+1)
		}
	}
	if rx.PatientType != "" && !rx.PatientType.Valid() {
		return fmt.Errorf("invalid patient_type: %s", rx.PatientType)
	}
	if rx.PaymentStatus != "" && !rx.PaymentStatus.Valid() {
		return fmt.Errorf("invalid payment_status: %s", rx.PaymentStatus)
	}
	return nil
}

// create prices and links each line against the branch's stock before
// saving. Lines for items the branch does not stock stay unlinked.
func (s *Service) create(ctx context.Context, rx *Prescription) error {
	if rx.BranchID == 0 {
		rx.BranchID = db.BranchFromContext(ctx)
	}
	if rx.PaymentStatus == "" {
		rx.PaymentStatus = PaymentPending
	}
	rx.Status = PrescriptionMachine.Initial()
	rx.TotalAmount = 0
	for i := range rx.Medications {
		m := &rx.Medications[i]
		m.ID = uuid.New()
		m.Dispensed = 0
		m.Status = MedPending
		item, err := s.inventory.FindByName(ctx, m.Name, rx.BranchID, "")
		if err != nil {
			if db.IsNotFound(err) {
				continue
			}
			return err
		}
		id := item.ID
		m.InventoryID = &id
		rx.TotalAmount += float64(m.Quantity) * item.UnitPrice
	}
	if err := s.prescriptions.Create(ctx, rx); err != nil {
		return err
	}
	s.publisher.Publish(ctx, websocket.NewEvent(EventPrescriptionCreated, websocket.TopicPharmacy, "Prescription", rx.ID, map[string]interface{}{
		"patient_id":   rx.PatientID,
		"patient_name": rx.PatientName,
		"walk_in":      rx.IsWalkIn,
	}))
	return nil
}

func (s *Service) CreatePrescription(ctx context.Context, rx *Prescription) error {
	if strings.TrimSpace(rx.PatientID) == "" {
		return fmt.Errorf("patient_id is required")
	}
	if err := s.validatePrescription(rx); err != nil {
		return err
	}
	if rx.PatientType == "" {
		rx.PatientType = PatientOutpatient
	}
	rx.ID = uuid.New().String()
	rx.IsWalkIn = false
	return s.create(ctx, rx)
}

// walkInID returns RX followed by eight hex characters.
func walkInID() string {
	return "RX" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// CreateWalkInPrescription records a prescription brought in from outside.
// The patient need not be registered.
func (s *Service) CreateWalkInPrescription(ctx context.Context, rx *Prescription) error {
	if err := s.validatePrescription(rx); err != nil {
		return err
	}
	rx.ID = walkInID()
	rx.IsWalkIn = true
	rx.PatientType = PatientWalkIn
	return s.create(ctx, rx)
}

func (s *Service) GetPrescription(ctx context.Context, id string) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, f PrescriptionFilter, limit, offset int) ([]*Prescription, int, error) {
	if f.Status != "" && !PrescriptionMachine.Valid(f.Status) {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.prescriptions.List(ctx, f, limit, offset)
}

// mutate locks a prescription, applies fn and saves it, publishing any
// status change after commit.
func (s *Service) mutate(ctx context.Context, id string, fn func(ctx context.Context, rx *Prescription, now time.Time) error) (*Prescription, error) {
	var (
		rx   *Prescription
		from Status
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		rx, err = s.prescriptions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = rx.Status
		now := s.now()
		if err := fn(ctx, rx, now); err != nil {
			return err
		}
		rx.LastUpdatedAt = now
		return s.prescriptions.Update(ctx, rx)
	})
	if err != nil {
		return nil, err
	}
	if from != rx.Status {
		s.publisher.Publish(ctx, websocket.NewStatusChangedEvent(websocket.TopicPharmacy, "Prescription",
			rx.ID, string(from), string(rx.Status), map[string]string{
				"patient_id":   rx.PatientID,
				"patient_name": rx.PatientName,
			}))
	}
	return rx, nil
}

func (s *Service) move(rx *Prescription, to Status) error {
	from := rx.Status
	if _, err := PrescriptionMachine.Transition(from, to); err != nil {
		return err
	}
	rx.Status = to
	s.metrics.RecordTransition(PrescriptionMachine.Name(), string(from), string(to))
	return nil
}

// ConfirmPrescription marks the prescription as checked by the pharmacist.
func (s *Service) ConfirmPrescription(ctx context.Context, id, by string) (*Prescription, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("confirmed_by is required")
	}
	return s.mutate(ctx, id, func(_ context.Context, rx *Prescription, now time.Time) error {
		if PrescriptionMachine.IsTerminal(rx.Status) {
			return fmt.Errorf("%w: %s", ErrPrescriptionClosed, rx.Status)
		}
		if rx.IsConfirmed {
			return ErrAlreadyConfirmed
		}
		rx.IsConfirmed = true
		rx.ConfirmedBy = &by
		rx.ConfirmedAt = &now
		return nil
	})
}

// stockFor finds and locks the inventory item behind a prescription line.
func (s *Service) stockFor(ctx context.Context, rx *Prescription, m *Medication) (*InventoryItem, error) {
	var id uuid.UUID
	if m.InventoryID != nil {
		id = *m.InventoryID
	} else {
		item, err := s.inventory.FindByName(ctx, m.Name, rx.BranchID, "")
		if err != nil {
			return nil, err
		}
		id = item.ID
	}
	return s.inventory.GetForUpdate(ctx, id)
}

// DispenseMedication issues quantity units of one prescription line. The
// stock decrement, its ledger entry and the prescription update commit
// together. A shortage marks the line out_of_stock and returns ErrOutOfStock
// without moving stock.
func (s *Service) DispenseMedication(ctx context.Context, id string, index, quantity int, by string) (*Prescription, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("dispensed_by is required")
	}
	var (
		item      *InventoryItem
		available int
		short     bool
	)
	rx, err := s.mutate(ctx, id, func(ctx context.Context, rx *Prescription, now time.Time) error {
		if index < 0 || index >= len(rx.Medications) {
			return fmt.Errorf("medication index %d out of range", index)
		}
		if PrescriptionMachine.IsTerminal(rx.Status) {
			return fmt.Errorf("%w: %s", ErrPrescriptionClosed, rx.Status)
		}
		m := &rx.Medications[index]
		if m.Status == MedDispensed || m.Status == MedCancelled {
			return fmt.Errorf("%w: %s", ErrAlreadyDispensed, m.Name)
		}
		if remaining := m.Quantity - m.Dispensed; quantity > remaining {
			return fmt.Errorf("quantity %d exceeds the %d remaining for %s", quantity, remaining, m.Name)
		}

		var err error
		item, err = s.stockFor(ctx, rx, m)
		if err != nil && !db.IsNotFound(err) {
			return err
		}
		if err != nil || item.Quantity < quantity {
			if err == nil {
				available = item.Quantity
			}
			item = nil
			short = true
			m.Status = MedOutOfStock
			return nil
		}
		if m.InventoryID == nil {
			itemID := item.ID
			m.InventoryID = &itemID
		}

		m.Dispensed += quantity
		m.Status = medicationStatus(m.Dispensed, m.Quantity)
		if next := prescriptionStatus(rx.Medications); next != rx.Status || next == StatusPartiallyDispensed {
			if err := s.move(rx, next); err != nil {
				return err
			}
		}
		if rx.Status == StatusDispensed {
			rx.DispensedBy = &by
			rx.DispensedAt = &now
		}

		item.Quantity -= quantity
		item.LastUpdatedAt = now
		if err := s.inventory.Update(ctx, item); err != nil {
			return err
		}
		return s.movements.Create(ctx, &StockMovement{
			ItemID:      item.ID,
			ItemName:    item.Name,
			Type:        MovementOut,
			Quantity:    quantity,
			Reason:      fmt.Sprintf("Dispensed to %s (%s)", rx.PatientName, rx.PatientType),
			PerformedBy: by,
			PerformedAt: now,
			Reference:   rx.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	if short {
		return rx, fmt.Errorf("%w: %d available", ErrOutOfStock, available)
	}
	s.checkReorder(ctx, item)
	return rx, nil
}

// checkReorder raises the low-stock notice once an item is at or below its
// reorder level.
func (s *Service) checkReorder(ctx context.Context, item *InventoryItem) {
	if s.notifier == nil || item == nil || item.Quantity > item.ReorderLevel {
		return
	}
	s.notifier.Notify(ctx, notification.TemplateLowStock, "", map[string]string{
		"item_name":     item.Name,
		"quantity":      strconv.Itoa(item.Quantity),
		"reorder_level": strconv.Itoa(item.ReorderLevel),
	})
}

// ReversePrescription returns everything dispensed to stock and closes the
// prescription.
func (s *Service) ReversePrescription(ctx context.Context, id, reason, by string) (*Prescription, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reason is required")
	}
	return s.mutate(ctx, id, func(ctx context.Context, rx *Prescription, now time.Time) error {
		if err := s.move(rx, StatusReversed); err != nil {
			return err
		}
		for i := range rx.Medications {
			m := &rx.Medications[i]
			if m.Dispensed == 0 {
				continue
			}
			item, err := s.stockFor(ctx, rx, m)
			if err != nil {
				return fmt.Errorf("restock %s: %w", m.Name, err)
			}
			item.Quantity += m.Dispensed
			item.LastUpdatedAt = now
			if err := s.inventory.Update(ctx, item); err != nil {
				return err
			}
			if err := s.movements.Create(ctx, &StockMovement{
				ItemID:      item.ID,
				ItemName:    item.Name,
				Type:        MovementIn,
				Quantity:    m.Dispensed,
				Reason:      "Reversed: " + reason,
				PerformedBy: by,
				PerformedAt: now,
				Reference:   rx.ID,
			}); err != nil {
				return err
			}
		}
		rx.IsConfirmed = false
		rx.Notes = appendNote(rx.Notes, "Reversed: "+reason)
		return nil
	})
}

// DeletePrescription cancels a prescription nothing has been dispensed
// against.
func (s *Service) DeletePrescription(ctx context.Context, id, reason string) (*Prescription, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reason is required")
	}
	return s.mutate(ctx, id, func(_ context.Context, rx *Prescription, _ time.Time) error {
		for _, m := range rx.Medications {
			if m.Dispensed > 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyDispensed, m.Name)
			}
		}
		if err := s.move(rx, StatusCancelled); err != nil {
			return err
		}
		for i := range rx.Medications {
			rx.Medications[i].Status = MedCancelled
		}
		rx.Notes = appendNote(rx.Notes, "Deleted: "+reason)
		return nil
	})
}

// PaymentUpdate settles how a prescription is paid for.
type PaymentUpdate struct {
	Status                PaymentStatus `json:"payment_status"`
	InsuranceProvider     *string       `json:"insurance_provider"`
	InsurancePolicyNumber *string       `json:"insurance_policy_number"`
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, upd PaymentUpdate) (*Prescription, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("invalid payment_status: %s", upd.Status)
	}
	if upd.Status == PaymentInsurance && (upd.InsuranceProvider == nil || *upd.InsuranceProvider == "") {
		return nil, fmt.Errorf("insurance_provider is required for insurance payment")
	}
	return s.mutate(ctx, id, func(_ context.Context, rx *Prescription, _ time.Time) error {
		rx.PaymentStatus = upd.Status
		if upd.InsuranceProvider != nil {
			rx.InsuranceProvider = upd.InsuranceProvider
		}
		if upd.InsurancePolicyNumber != nil {
			rx.InsurancePolicyNumber = upd.InsurancePolicyNumber
		}
		return nil
	})
}
