package publish

import (
	"context"
	"log/slog"
	"sync"

	"regwatch/internal/domain/entity"
)

// Cache is a jurisdiction-scoped cache invalidated by incoming events.
type Cache interface {
	Invalidate(jurisdiction string)
	InvalidateAll()
}

// MemoryCache is a Cache of arbitrary values keyed by jurisdiction and key.
type MemoryCache struct {
	mu            sync.RWMutex
	entries       map[string]map[string]any
	invalidations int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]map[string]any)}
}

func (c *MemoryCache) Get(jurisdiction, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[jurisdiction][key]
	return v, ok
}

func (c *MemoryCache) Set(jurisdiction, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[jurisdiction]
	if !ok {
		m = make(map[string]any)
		c.entries[jurisdiction] = m
	}
	m[key] = value
}

func (c *MemoryCache) Invalidate(jurisdiction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jurisdiction)
	c.invalidations++
}

func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]any)
	c.invalidations++
}

// Invalidations returns how many invalidations have happened.
func (c *MemoryCache) Invalidations() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidations
}

// Recompiler is the downstream rule-compilation collaborator.
type Recompiler interface {
	Recompile(ctx context.Context, ev entity.RegulatoryEvent) error
}

// LogRecompiler only logs the recompilation request. It stands in for the
// external compiler when none is configured.
type LogRecompiler struct {
	Logger *slog.Logger
}

func (r LogRecompiler) Recompile(_ context.Context, ev entity.RegulatoryEvent) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("recompilation requested",
		slog.String("event_kind", string(ev.Kind)),
		slog.String("subject_id", ev.SubjectID),
		slog.String("jurisdiction", ev.Jurisdiction),
		slog.String("correlation_id", ev.CorrelationID))
	return nil
}
