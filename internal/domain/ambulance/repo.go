package ambulance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AmbulanceRepository interface {
	Create(ctx context.Context, a *Ambulance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ambulance, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Ambulance, error)
	Update(ctx context.Context, a *Ambulance) error
	List(ctx context.Context, f AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error)
	CountByStatus(ctx context.Context) (map[AmbulanceStatus]int, error)
}

type CrewRepository interface {
	Create(ctx context.Context, m *CrewMember) error
	GetByID(ctx context.Context, id uuid.UUID) (*CrewMember, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*CrewMember, error)
	Update(ctx context.Context, m *CrewMember) error
	List(ctx context.Context, f CrewFilter, limit, offset int) ([]*CrewMember, int, error)
	// ListByAmbulance returns the crew whose current ambulance is id.
	ListByAmbulance(ctx context.Context, id uuid.UUID) ([]*CrewMember, error)
}

type CallRepository interface {
	Create(ctx context.Context, c *Call) error
	GetByID(ctx context.Context, id uuid.UUID) (*Call, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Call, error)
	Update(ctx context.Context, c *Call) error
	List(ctx context.Context, f CallFilter, limit, offset int) ([]*Call, int, error)
	CountActive(ctx context.Context) (int, error)
	// MaxNumber returns the highest numeric suffix of call numbers starting
	// with numberPrefix, or 0.
	MaxNumber(ctx context.Context, numberPrefix string) (int64, error)
}

type MaintenanceRepository interface {
	Create(ctx context.Context, m *Maintenance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Maintenance, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Maintenance, error)
	Update(ctx context.Context, m *Maintenance) error
	List(ctx context.Context, f MaintenanceFilter, limit, offset int) ([]*Maintenance, int, error)
	// ListUpcoming returns scheduled entries dated after now, soonest first.
	ListUpcoming(ctx context.Context, now time.Time) ([]*Maintenance, error)
}
