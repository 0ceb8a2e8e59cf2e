package repository

import (
	"context"

	"regwatch/internal/domain/entity"
)

type ItemRepository interface {
	// KnownFingerprints returns the latest fingerprint stored for each of the
	// given subject ids. Unknown subjects are absent from the map.
	KnownFingerprints(ctx context.Context, subjectIDs []string) (map[string]string, error)
	// SaveBatch inserts items; items whose id already exists are left unchanged.
	SaveBatch(ctx context.Context, items []*entity.DiscoveredItem) error
	Get(ctx context.Context, id string) (*entity.DiscoveredItem, error)
	// UpdateStatus moves an item from one status to another. It returns
	// entity.ErrInvalidTransition when the move is not allowed or the stored
	// status is not from.
	UpdateStatus(ctx context.Context, id string, from, to entity.ProcessingStatus, reason string) error
	ListByStatus(ctx context.Context, statuses ...entity.ProcessingStatus) ([]*entity.DiscoveredItem, error)
}
