package repository

import (
	"context"
	"time"

	"regwatch/internal/domain/entity"
)

// DLQFilter narrows List results. Zero values mean no filter.
type DLQFilter struct {
	Topic string
	Limit int

	ExcludeKinds        []entity.FailureKind
	ExcludeDependencies []string
	// MaxFailureCount keeps messages with failure_count <= MaxFailureCount.
	MaxFailureCount int
	// FailedSince keeps messages whose first failure is not before it.
	FailedSince time.Time
}

// Match reports whether m passes every set field except Limit.
func (f DLQFilter) Match(m *entity.DLQMessage) bool {
	if f.Topic != "" && m.Topic != f.Topic {
		return false
	}
	for _, k := range f.ExcludeKinds {
		if m.FailureKind == k {
			return false
		}
	}
	for _, d := range f.ExcludeDependencies {
		if m.Dependency == d {
			return false
		}
	}
	if f.MaxFailureCount > 0 && m.FailureCount > f.MaxFailureCount {
		return false
	}
	if !f.FailedSince.IsZero() && m.FirstFailureAt.Before(f.FailedSince) {
		return false
	}
	return true
}

type DLQRepository interface {
	Save(ctx context.Context, msg *entity.DLQMessage) error
	Get(ctx context.Context, id string) (*entity.DLQMessage, error)
	// List returns messages ordered by first failure, oldest first.
	List(ctx context.Context, filter DLQFilter) ([]*entity.DLQMessage, error)
	Update(ctx context.Context, msg *entity.DLQMessage) error
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// Trim deletes the messages with the oldest first failure so that at
	// most keep remain.
	Trim(ctx context.Context, keep int) (int64, error)
	CountByTopic(ctx context.Context) (map[string]int, error)
}
