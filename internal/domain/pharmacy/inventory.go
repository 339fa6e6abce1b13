package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
)

const defaultExpiryMonths = 3

func validateItem(it *InventoryItem) error {
	if strings.TrimSpace(it.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if it.Quantity < 0 || it.ReorderLevel < 0 {
		return fmt.Errorf("quantity and reorder_level must be at least 0")
	}
	if it.UnitPrice < 0 {
		return fmt.Errorf("unit_price must be at least 0")
	}
	if it.ExpiryDate.IsZero() {
		return fmt.Errorf("expiry_date is required")
	}
	return nil
}

// AddInventoryItem stocks a new item. Opening stock is posted to the ledger
// as an in movement.
func (s *Service) AddInventoryItem(ctx context.Context, it *InventoryItem, by string) error {
	if err := validateItem(it); err != nil {
		return err
	}
	if it.BranchID == 0 {
		it.BranchID = db.BranchFromContext(ctx)
	}
	return db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		if err := s.inventory.Create(ctx, it); err != nil {
			return err
		}
		if it.Quantity == 0 {
			return nil
		}
		return s.movements.Create(ctx, &StockMovement{
			ItemID:      it.ID,
			ItemName:    it.Name,
			Type:        MovementIn,
			Quantity:    it.Quantity,
			Reason:      "Opening stock",
			PerformedBy: by,
			PerformedAt: s.now(),
		})
	})
}

func (s *Service) GetInventoryItem(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return s.inventory.GetByID(ctx, id)
}

func (s *Service) ListInventory(ctx context.Context, f InventoryFilter, limit, offset int) ([]*InventoryItem, int, error) {
	return s.inventory.List(ctx, f, limit, offset)
}

// UpdateInventoryItem edits descriptive fields. The row is locked so a
// concurrent stock post is not overwritten with a stale quantity.
func (s *Service) UpdateInventoryItem(ctx context.Context, id uuid.UUID, upd InventoryUpdate) (*InventoryItem, error) {
	var it *InventoryItem
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		it, err = s.inventory.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		applyInventoryUpdate(it, upd)
		if err := validateItem(it); err != nil {
			return err
		}
		return s.inventory.Update(ctx, it)
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

func applyInventoryUpdate(it *InventoryItem, upd InventoryUpdate) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&it.Name, upd.Name)
	setString(&it.GenericName, upd.GenericName)
	setString(&it.Category, upd.Category)
	setString(&it.DosageForm, upd.DosageForm)
	setString(&it.Strength, upd.Strength)
	setString(&it.Manufacturer, upd.Manufacturer)
	setString(&it.BatchNumber, upd.BatchNumber)
	setString(&it.Location, upd.Location)
	if upd.ExpiryDate != nil {
		it.ExpiryDate = *upd.ExpiryDate
	}
	if upd.ReorderLevel != nil {
		it.ReorderLevel = *upd.ReorderLevel
	}
	if upd.UnitPrice != nil {
		it.UnitPrice = *upd.UnitPrice
	}
}

// post locks an item, applies delta and records the movement.
func (s *Service) post(ctx context.Context, id uuid.UUID, delta int, m StockMovement) (*InventoryItem, error) {
	var item *InventoryItem
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		item, err = s.inventory.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if item.Quantity+delta < 0 {
			return fmt.Errorf("%w: %d of %s on hand", ErrOutOfStock, item.Quantity, item.Name)
		}
		now := s.now()
		item.Quantity += delta
		item.LastUpdatedAt = now
		if err := s.inventory.Update(ctx, item); err != nil {
			return err
		}
		m.ItemID = item.ID
		m.ItemName = item.Name
		m.PerformedAt = now
		return s.movements.Create(ctx, &m)
	})
	if err != nil {
		return nil, err
	}
	if delta < 0 {
		s.checkReorder(ctx, item)
	}
	return item, nil
}

// AdjustStock corrects the on-hand count by a signed delta.
func (s *Service) AdjustStock(ctx context.Context, id uuid.UUID, delta int, reason, by string) (*InventoryItem, error) {
	if delta == 0 {
		return nil, fmt.Errorf("adjustment must be nonzero")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reason is required")
	}
	return s.post(ctx, id, delta, StockMovement{
		Type:        MovementAdjustment,
		Quantity:    delta,
		Reason:      reason,
		PerformedBy: by,
	})
}

// ReceiveStock books a delivery or a patient return.
func (s *Service) ReceiveStock(ctx context.Context, id uuid.UUID, quantity int, reason, reference, by string) (*InventoryItem, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if reason == "" {
		reason = "Stock received"
	}
	return s.post(ctx, id, quantity, StockMovement{
		Type:        MovementIn,
		Quantity:    quantity,
		Reason:      reason,
		PerformedBy: by,
		Reference:   reference,
	})
}

func (s *Service) ListMovements(ctx context.Context, f MovementFilter, limit, offset int) ([]*StockMovement, int, error) {
	return s.movements.List(ctx, f, limit, offset)
}

// ReorderReport lists items at or below their reorder level.
func (s *Service) ReorderReport(ctx context.Context) ([]*InventoryItem, error) {
	items, err := s.inventory.ListBelowReorder(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*InventoryItem{}
	}
	return items, nil
}

// ExpiryReport lists items expiring within months (3 when months is not
// positive). Items already past expiry are flagged as expired.
func (s *Service) ExpiryReport(ctx context.Context, months int) ([]*InventoryItem, error) {
	if months <= 0 {
		months = defaultExpiryMonths
	}
	today := s.now()
	items, err := s.inventory.ListExpiringBefore(ctx, today.AddDate(0, months, 0))
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		it.IsExpiringSoon = true
		it.IsExpired = !it.ExpiryDate.After(today)
	}
	if items == nil {
		items = []*InventoryItem{}
	}
	return items, nil
}

// StockMovementSummary totals the ledger over [from, to] per item, or for a
// single item when itemID is set. The opening balance is worked back from the
// current quantity.
func (s *Service) StockMovementSummary(ctx context.Context, itemID *uuid.UUID, from, to time.Time) ([]MovementSummary, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("end date is before start date")
	}
	out, err := s.movements.Summaries(ctx, itemID, from, to)
	if err != nil {
		return nil, err
	}
	for i := range out {
		m := &out[i]
		m.OpeningBalance = m.ClosingBalance - (m.Received - m.Dispensed - m.Adjusted - m.Transferred)
	}
	if out == nil {
		out = []MovementSummary{}
	}
	return out, nil
}
