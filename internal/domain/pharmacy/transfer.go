package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
)

// CreateTransfer requests stock to move between locations or branches.
// Quantities are checked again on completion.
func (s *Service) CreateTransfer(ctx context.Context, t *Transfer) error {
	if t.TransferType == "" {
		t.TransferType = TransferInternal
	}
	if t.TransferType != TransferInternal && t.TransferType != TransferExternal {
		return fmt.Errorf("invalid transfer_type: %s", t.TransferType)
	}
	if strings.TrimSpace(t.FromLocation) == "" || strings.TrimSpace(t.ToLocation) == "" {
		return fmt.Errorf("from_location and to_location are required")
	}
	if strings.TrimSpace(t.RequestedBy) == "" {
		return fmt.Errorf("requested_by is required")
	}
	if t.FromBranchID == 0 {
		t.FromBranchID = db.BranchFromContext(ctx)
	}
	if t.ToBranchID == 0 {
		t.ToBranchID = t.FromBranchID
	}
	if t.FromBranchID == t.ToBranchID && t.FromLocation == t.ToLocation {
		return fmt.Errorf("source and destination are the same")
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	for i := range t.Items {
		line := &t.Items[i]
		if line.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i+1)
		}
		it, err := s.inventory.GetByID(ctx, line.ItemID)
		if err != nil {
			return fmt.Errorf("item %s: %w", line.ItemID, err)
		}
		line.ItemName = it.Name
	}
	t.Status = TransferMachine.Initial()
	t.RequestedAt = s.now()
	t.CompletedBy = nil
	t.CompletedAt = nil
	return s.transfers.Create(ctx, t)
}

func (s *Service) GetTransfer(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	return s.transfers.GetByID(ctx, id)
}

func (s *Service) ListTransfers(ctx context.Context, status TransferStatus, limit, offset int) ([]*Transfer, int, error) {
	if status != "" && !TransferMachine.Valid(status) {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.transfers.List(ctx, status, limit, offset)
}

// CompleteTransfer takes the stock out of the source and posts a transfer
// movement per line. Internal transfers also credit the destination, adding
// to a matching item there or opening a new one.
func (s *Service) CompleteTransfer(ctx context.Context, id uuid.UUID, by string) (*Transfer, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("completed_by is required")
	}
	var (
		t       *Transfer
		drained []*InventoryItem
	)
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		t, err = s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := t.Status
		if _, err := TransferMachine.Transition(from, TransferCompleted); err != nil {
			return err
		}
		now := s.now()
		for _, line := range t.Items {
			src, err := s.inventory.GetForUpdate(ctx, line.ItemID)
			if err != nil {
				return fmt.Errorf("item %s: %w", line.ItemName, err)
			}
			if src.Quantity < line.Quantity {
				return fmt.Errorf("%w: %d of %s on hand", ErrOutOfStock, src.Quantity, src.Name)
			}
			src.Quantity -= line.Quantity
			src.LastUpdatedAt = now
			if err := s.inventory.Update(ctx, src); err != nil {
				return err
			}
			fromLoc, toLoc := t.FromLocation, t.ToLocation
			if err := s.movements.Create(ctx, &StockMovement{
				ItemID:       src.ID,
				ItemName:     src.Name,
				Type:         MovementTransfer,
				Quantity:     line.Quantity,
				FromLocation: &fromLoc,
				ToLocation:   &toLoc,
				Reason:       "Transfer: " + string(t.TransferType),
				PerformedBy:  by,
				PerformedAt:  now,
				Reference:    t.ID.String(),
			}); err != nil {
				return err
			}
			drained = append(drained, src)
			if t.TransferType == TransferInternal {
				if err := s.credit(ctx, t, src, line.Quantity, by, now); err != nil {
					return err
				}
			}
		}
		s.metrics.RecordTransition(TransferMachine.Name(), string(from), string(TransferCompleted))
		t.Status = TransferCompleted
		t.CompletedBy = &by
		t.CompletedAt = &now
		return s.transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	for _, it := range drained {
		s.checkReorder(ctx, it)
	}
	return t, nil
}

func (s *Service) credit(ctx context.Context, t *Transfer, src *InventoryItem, qty int, by string, now time.Time) error {
	dest, err := s.inventory.FindByName(ctx, src.Name, t.ToBranchID, t.ToLocation)
	switch {
	case db.IsNotFound(err):
		dest = &InventoryItem{
			Name:         src.Name,
			GenericName:  src.GenericName,
			Category:     src.Category,
			DosageForm:   src.DosageForm,
			Strength:     src.Strength,
			Manufacturer: src.Manufacturer,
			BatchNumber:  src.BatchNumber,
			ExpiryDate:   src.ExpiryDate,
			Quantity:     qty,
			ReorderLevel: src.ReorderLevel,
			UnitPrice:    src.UnitPrice,
			Location:     t.ToLocation,
			BranchID:     t.ToBranchID,
		}
		if err := s.inventory.Create(ctx, dest); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if dest, err = s.inventory.GetForUpdate(ctx, dest.ID); err != nil {
			return err
		}
		dest.Quantity += qty
		dest.LastUpdatedAt = now
		if err := s.inventory.Update(ctx, dest); err != nil {
			return err
		}
	}
	return s.movements.Create(ctx, &StockMovement{
		ItemID:      dest.ID,
		ItemName:    dest.Name,
		Type:        MovementIn,
		Quantity:    qty,
		Reason:      "Transfer from " + t.FromLocation,
		PerformedBy: by,
		PerformedAt: now,
		Reference:   t.ID.String(),
	})
}

func (s *Service) CancelTransfer(ctx context.Context, id uuid.UUID, reason string) (*Transfer, error) {
	var t *Transfer
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		t, err = s.transfers.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := TransferMachine.Transition(t.Status, TransferCancelled); err != nil {
			return err
		}
		s.metrics.RecordTransition(TransferMachine.Name(), string(t.Status), string(TransferCancelled))
		t.Status = TransferCancelled
		if reason != "" {
			t.Notes = appendNote(t.Notes, "Cancelled: "+reason)
		}
		return s.transfers.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
