package radiology

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	Update(ctx context.Context, t *Test) error
	List(ctx context.Context, f TestFilter, limit, offset int) ([]*Test, int, error)
}

type RequestRepository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// GetForUpdate locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) error
	List(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error)
	// Stats counts requests by status, plus those dated or scheduled on day.
	Stats(ctx context.Context, day time.Time) (*DashboardStats, error)
}

type ExternalPatientRepository interface {
	Create(ctx context.Context, p *ExternalPatient) error
	GetByID(ctx context.Context, id uuid.UUID) (*ExternalPatient, error)
	List(ctx context.Context, f ExternalPatientFilter, limit, offset int) ([]*ExternalPatient, int, error)
}
