// Package memory provides mutex-guarded in-memory repositories for local runs
// and tests. State is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

// SourceRepo implements repository.SourceRepository.
type SourceRepo struct {
	mu      sync.RWMutex
	sources map[string]*entity.FeedSource
}

func NewSourceRepo() *SourceRepo {
	return &SourceRepo{sources: make(map[string]*entity.FeedSource)}
}

var _ repository.SourceRepository = (*SourceRepo)(nil)

func (r *SourceRepo) Get(_ context.Context, id string) (*entity.FeedSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("Get %s: %w", id, entity.ErrNotFound)
	}
	return s.Clone(), nil
}

func (r *SourceRepo) List(_ context.Context) ([]*entity.FeedSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.FeedSource, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert stores configuration fields. Stored health is kept for existing sources.
func (r *SourceRepo) Upsert(_ context.Context, source *entity.FeedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := source.Clone()
	if existing, ok := r.sources[source.ID]; ok {
		c.Health = existing.Health
	}
	r.sources[source.ID] = c
	return nil
}

func (r *SourceRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("Deactivate %s: %w", id, entity.ErrNotFound)
	}
	s.Active = false
	return nil
}

func (r *SourceRepo) UpdateHealth(_ context.Context, id string, health entity.SourceHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("UpdateHealth %s: %w", id, entity.ErrNotFound)
	}
	s.Health = health
	return nil
}

// ItemRepo implements repository.ItemRepository.
type ItemRepo struct {
	mu    sync.RWMutex
	items map[string]*entity.DiscoveredItem
	order []string
}

func NewItemRepo() *ItemRepo {
	return &ItemRepo{items: make(map[string]*entity.DiscoveredItem)}
}

var _ repository.ItemRepository = (*ItemRepo)(nil)

func (r *ItemRepo) KnownFingerprints(_ context.Context, subjectIDs []string) (map[string]string, error) {
	want := make(map[string]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		want[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string)
	// order is insertion order, so later revisions overwrite earlier ones
	for _, id := range r.order {
		it := r.items[id]
		if want[it.SubjectID] {
			out[it.SubjectID] = it.Fingerprint
		}
	}
	return out, nil
}

func (r *ItemRepo) SaveBatch(_ context.Context, items []*entity.DiscoveredItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		if _, exists := r.items[it.ID]; exists {
			continue
		}
		c := *it
		r.items[it.ID] = &c
		r.order = append(r.order, it.ID)
	}
	return nil
}

func (r *ItemRepo) Get(_ context.Context, id string) (*entity.DiscoveredItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("Get %s: %w", id, entity.ErrNotFound)
	}
	c := *it
	return &c, nil
}

func (r *ItemRepo) UpdateStatus(_ context.Context, id string, from, to entity.ProcessingStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return fmt.Errorf("UpdateStatus %s: %w", id, entity.ErrNotFound)
	}
	if it.Status != from || !entity.CanTransition(from, to) {
		return fmt.Errorf("UpdateStatus %s %s->%s (stored %s): %w", id, from, to, it.Status, entity.ErrInvalidTransition)
	}
	it.Status = to
	it.FailureReason = reason
	return nil
}

func (r *ItemRepo) ListByStatus(_ context.Context, statuses ...entity.ProcessingStatus) ([]*entity.DiscoveredItem, error) {
	want := make(map[entity.ProcessingStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.DiscoveredItem, 0)
	for _, id := range r.order {
		it := r.items[id]
		if want[it.Status] {
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

// FailureRepo implements repository.FailureRepository.
type FailureRepo struct {
	mu      sync.Mutex
	records []entity.FailureRecord
}

func NewFailureRepo() *FailureRepo { return &FailureRepo{} }

var _ repository.FailureRepository = (*FailureRepo)(nil)

func (r *FailureRepo) Save(_ context.Context, rec entity.FailureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *FailureRepo) ListSince(_ context.Context, since time.Time) ([]entity.FailureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.FailureRecord, 0)
	for _, rec := range r.records {
		if !rec.OccurredAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *FailureRepo) Trim(_ context.Context, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	over := len(r.records) - keep
	if over <= 0 {
		return 0, nil
	}
	r.records = append(r.records[:0:0], r.records[over:]...)
	return int64(over), nil
}

// SnapshotRepo implements repository.SnapshotRepository.
type SnapshotRepo struct {
	mu        sync.Mutex
	snapshots []entity.HealthSnapshot
}

func NewSnapshotRepo() *SnapshotRepo { return &SnapshotRepo{} }

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

func (r *SnapshotRepo) Save(_ context.Context, s entity.HealthSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *SnapshotRepo) Latest(_ context.Context) (*entity.HealthSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil, entity.ErrNotFound
	}
	s := r.snapshots[len(r.snapshots)-1]
	return &s, nil
}

// All returns every saved snapshot.
func (r *SnapshotRepo) All() []entity.HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.HealthSnapshot(nil), r.snapshots...)
}

// DLQRepo implements repository.DLQRepository.
type DLQRepo struct {
	mu   sync.Mutex
	msgs map[string]*entity.DLQMessage
}

func NewDLQRepo() *DLQRepo {
	return &DLQRepo{msgs: make(map[string]*entity.DLQMessage)}
}

var _ repository.DLQRepository = (*DLQRepo)(nil)

func cloneDLQ(m *entity.DLQMessage) *entity.DLQMessage {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

func (r *DLQRepo) Save(_ context.Context, msg *entity.DLQMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[msg.ID] = cloneDLQ(msg)
	return nil
}

func (r *DLQRepo) Get(_ context.Context, id string) (*entity.DLQMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, fmt.Errorf("Get %s: %w", id, entity.ErrNotFound)
	}
	return cloneDLQ(m), nil
}

func (r *DLQRepo) List(_ context.Context, filter repository.DLQFilter) ([]*entity.DLQMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.DLQMessage, 0, len(r.msgs))
	for _, m := range r.msgs {
		if !filter.Match(m) {
			continue
		}
		out = append(out, cloneDLQ(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstFailureAt.Equal(out[j].FirstFailureAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstFailureAt.Before(out[j].FirstFailureAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *DLQRepo) Update(_ context.Context, msg *entity.DLQMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[msg.ID]; !ok {
		return fmt.Errorf("Update %s: %w", msg.ID, entity.ErrNotFound)
	}
	r.msgs[msg.ID] = cloneDLQ(msg)
	return nil
}

func (r *DLQRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[id]; !ok {
		return fmt.Errorf("Delete %s: %w", id, entity.ErrNotFound)
	}
	delete(r.msgs, id)
	return nil
}

func (r *DLQRepo) Trim(_ context.Context, keep int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	over := len(r.msgs) - keep
	if over <= 0 {
		return 0, nil
	}
	oldest := make([]*entity.DLQMessage, 0, len(r.msgs))
	for _, m := range r.msgs {
		oldest = append(oldest, m)
	}
	sort.Slice(oldest, func(i, j int) bool {
		if oldest[i].FirstFailureAt.Equal(oldest[j].FirstFailureAt) {
			return oldest[i].ID < oldest[j].ID
		}
		return oldest[i].FirstFailureAt.Before(oldest[j].FirstFailureAt)
	})
	for _, m := range oldest[:over] {
		delete(r.msgs, m.ID)
	}
	return int64(over), nil
}

func (r *DLQRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.msgs {
		if m.FirstFailureAt.Before(cutoff) {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

func (r *DLQRepo) CountByTopic(_ context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, m := range r.msgs {
		out[m.Topic]++
	}
	return out, nil
}
