package repository

import (
	"context"

	"regwatch/internal/domain/entity"
)

// SourceRepository persists feed source configuration and health.
// Sources are never deleted, only deactivated.
type SourceRepository interface {
	Get(ctx context.Context, id string) (*entity.FeedSource, error)
	List(ctx context.Context) ([]*entity.FeedSource, error)
	Upsert(ctx context.Context, source *entity.FeedSource) error
	Deactivate(ctx context.Context, id string) error
	UpdateHealth(ctx context.Context, id string, health entity.SourceHealth) error
}
