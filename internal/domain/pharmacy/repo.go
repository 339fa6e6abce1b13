package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PrescriptionRepository interface {
	Create(ctx context.Context, rx *Prescription) error
	GetByID(ctx context.Context, id string) (*Prescription, error)
	GetForUpdate(ctx context.Context, id string) (*Prescription, error)
	Update(ctx context.Context, rx *Prescription) error
	List(ctx context.Context, f PrescriptionFilter, limit, offset int) ([]*Prescription, int, error)
}

type InventoryRepository interface {
	Create(ctx context.Context, item *InventoryItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	// FindByName matches case-insensitively within a branch. An empty
	// location matches any location.
	FindByName(ctx context.Context, name string, branchID int, location string) (*InventoryItem, error)
	Update(ctx context.Context, item *InventoryItem) error
	List(ctx context.Context, f InventoryFilter, limit, offset int) ([]*InventoryItem, int, error)
	ListBelowReorder(ctx context.Context) ([]*InventoryItem, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*InventoryItem, error)
}

type MovementRepository interface {
	Create(ctx context.Context, m *StockMovement) error
	List(ctx context.Context, f MovementFilter, limit, offset int) ([]*StockMovement, int, error)
	// Summaries totals movements per item over [from, to]. ClosingBalance is
	// the item's current quantity; OpeningBalance is left to the caller.
	Summaries(ctx context.Context, itemID *uuid.UUID, from, to time.Time) ([]MovementSummary, error)
}

type StockTakeRepository interface {
	Create(ctx context.Context, st *StockTake) error
	GetByID(ctx context.Context, id uuid.UUID) (*StockTake, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*StockTake, error)
	Update(ctx context.Context, st *StockTake) error
	List(ctx context.Context, status StockTakeStatus, limit, offset int) ([]*StockTake, int, error)
}

type TransferRepository interface {
	Create(ctx context.Context, t *Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer) error
	List(ctx context.Context, status TransferStatus, limit, offset int) ([]*Transfer, int, error)
}
