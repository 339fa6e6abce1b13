package pharmacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bristolpark/hmis/internal/platform/db"
)

// countSheetLimit bounds how many items a location-wide stock take captures.
const countSheetLimit = 1000

// StockTakeInput opens a count. With no ItemIDs every item at Location is
// counted.
type StockTakeInput struct {
	Name        string      `json:"name"`
	Location    string      `json:"location"`
	ConductedBy string      `json:"conducted_by"`
	ItemIDs     []uuid.UUID `json:"item_ids"`
	Notes       string      `json:"notes"`
}

// CreateStockTake snapshots the system quantities the count is checked
// against.
func (s *Service) CreateStockTake(ctx context.Context, in StockTakeInput) (*StockTake, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(in.ConductedBy) == "" {
		return nil, fmt.Errorf("conducted_by is required")
	}
	if len(in.ItemIDs) == 0 && in.Location == "" {
		return nil, fmt.Errorf("location or item_ids is required")
	}

	var items []*InventoryItem
	if len(in.ItemIDs) > 0 {
		for _, id := range in.ItemIDs {
			it, err := s.inventory.GetByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("item %s: %w", id, err)
			}
			items = append(items, it)
		}
	} else {
		var err error
		items, _, err = s.inventory.List(ctx, InventoryFilter{Location: in.Location}, countSheetLimit, 0)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("no items stocked at %s", in.Location)
		}
	}

	st := &StockTake{
		Name:        in.Name,
		Status:      StockTakeMachine.Initial(),
		StartDate:   s.now(),
		Location:    in.Location,
		ConductedBy: in.ConductedBy,
		Notes:       in.Notes,
		BranchID:    db.BranchFromContext(ctx),
	}
	for _, it := range items {
		st.Items = append(st.Items, StockTakeItem{
			ItemID:           it.ID,
			ItemName:         it.Name,
			ExpectedQuantity: it.Quantity,
		})
	}
	if err := s.stockTakes.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) GetStockTake(ctx context.Context, id uuid.UUID) (*StockTake, error) {
	return s.stockTakes.GetByID(ctx, id)
}

func (s *Service) ListStockTakes(ctx context.Context, status StockTakeStatus, limit, offset int) ([]*StockTake, int, error) {
	if status != "" && !StockTakeMachine.Valid(status) {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.stockTakes.List(ctx, status, limit, offset)
}

// RecordCount stores the physical count for one item on an open stock take.
func (s *Service) RecordCount(ctx context.Context, id, itemID uuid.UUID, actual int, notes string) (*StockTake, error) {
	if actual < 0 {
		return nil, fmt.Errorf("actual_quantity must be at least 0")
	}
	var st *StockTake
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		st, err = s.stockTakes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if StockTakeMachine.IsTerminal(st.Status) {
			return fmt.Errorf("%w: %s", ErrStockTakeClosed, st.Status)
		}
		line := st.item(itemID)
		if line == nil {
			return fmt.Errorf("item %s: %w", itemID, db.ErrNotFound)
		}
		line.ActualQuantity = &actual
		line.Discrepancy = actual - line.ExpectedQuantity
		if notes != "" {
			line.Notes = notes
		}
		return s.stockTakes.Update(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CompleteStockTake sets every counted item to its counted quantity. Each
// change is posted as an adjustment against the item's quantity at
// completion, which equals the recorded discrepancy unless stock moved
// during the count.
func (s *Service) CompleteStockTake(ctx context.Context, id uuid.UUID, by string) (*StockTake, error) {
	var st *StockTake
	err := db.RunInTx(ctx, s.tx, func(ctx context.Context) error {
		var err error
		st, err = s.stockTakes.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := StockTakeMachine.Transition(st.Status, StockTakeCompleted); err != nil {
			return err
		}
		for _, line := range st.Items {
			if line.ActualQuantity == nil {
				return fmt.Errorf("%s has not been counted", line.ItemName)
			}
		}
		now := s.now()
		if by == "" {
			by = st.ConductedBy
		}
		for _, line := range st.Items {
			item, err := s.inventory.GetForUpdate(ctx, line.ItemID)
			if err != nil {
				return fmt.Errorf("item %s: %w", line.ItemName, err)
			}
			delta := *line.ActualQuantity - item.Quantity
			if delta == 0 {
				continue
			}
			item.Quantity = *line.ActualQuantity
			item.LastUpdatedAt = now
			if err := s.inventory.Update(ctx, item); err != nil {
				return err
			}
			if err := s.movements.Create(ctx, &StockMovement{
				ItemID:      item.ID,
				ItemName:    item.Name,
				Type:        MovementAdjustment,
				Quantity:    delta,
				Reason:      "Stock take adjustment: " + st.Name,
				PerformedBy: by,
				PerformedAt: now,
				Reference:   st.ID.String(),
			}); err != nil {
				return err
			}
		}
		s.metrics.RecordTransition(StockTakeMachine.Name(), string(st.Status), string(StockTakeCompleted))
		st.Status = StockTakeCompleted
		end := now
		st.EndDate = &end
		return s.stockTakes.Update(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
