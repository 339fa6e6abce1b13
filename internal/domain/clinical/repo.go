package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type QueueRepository interface {
	Create(ctx context.Context, e *QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// GetForUpdate row-locks the entry for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	Update(ctx context.Context, e *QueueEntry) error
	List(ctx context.Context, f QueueFilter, limit, offset int) ([]*QueueEntry, int, error)
	// MaxToken returns the highest token issued on day, or 0.
	MaxToken(ctx context.Context, day time.Time) (int64, error)
}
