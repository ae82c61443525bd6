package submission

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists the append-only transaction audit trail. Records are
// never updated after creation; the trail stays queryable by transaction
// uuid and by facility id.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error
	GetByUUID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListByFacility(ctx context.Context, facilityID int64, limit, offset int) ([]*Transaction, int, error)
}
