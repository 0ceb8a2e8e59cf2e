package repository

import (
	"context"
	"time"

	"regwatch/internal/domain/entity"
)

type FailureRepository interface {
	Save(ctx context.Context, record entity.FailureRecord) error
	ListSince(ctx context.Context, since time.Time) ([]entity.FailureRecord, error)
	// Trim deletes the oldest records so that at most keep remain.
	Trim(ctx context.Context, keep int) (int64, error)
}

type SnapshotRepository interface {
	Save(ctx context.Context, snapshot entity.HealthSnapshot) error
	Latest(ctx context.Context) (*entity.HealthSnapshot, error)
}
