package bloodbank

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UnitRepository interface {
	Create(ctx context.Context, u *Unit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Unit, error)
	// GetForUpdate reads a unit and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Unit, error)
	GetByNumber(ctx context.Context, unitNumber string) (*Unit, error)
	Update(ctx context.Context, u *Unit) error
	List(ctx context.Context, f UnitFilter, limit, offset int) ([]*Unit, int, error)
	// CountAvailable groups available units by blood and product type.
	CountAvailable(ctx context.Context) ([]InventoryCount, error)
	// ListExpiring returns units that can still expire and whose expiry
	// date is before now, locking their rows.
	ListExpiring(ctx context.Context, now time.Time) ([]*Unit, error)
}

type DonorRepository interface {
	Create(ctx context.Context, d *Donor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Donor, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Donor, error)
	Update(ctx context.Context, d *Donor) error
	List(ctx context.Context, f DonorFilter, limit, offset int) ([]*Donor, int, error)
}

type RequestRepository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) error
	List(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error)
	// MaxNumber returns the highest numeric suffix of request numbers
	// starting with numberPrefix, or 0.
	MaxNumber(ctx context.Context, numberPrefix string) (int64, error)
}
