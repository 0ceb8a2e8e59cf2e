package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

// Fingerprint returns the hex sha256 of a raw payload.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// EntryFingerprint hashes the fields of an entry that mark a revision.
func EntryFingerprint(e FeedEntry) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(e.Title))
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(e.URL))
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(e.Summary))
	b.WriteByte(0)
	if e.PublishedAt != nil {
		b.WriteString(e.PublishedAt.UTC().Format(time.RFC3339))
	}
	b.WriteByte(0)
	if e.UpdatedAt != nil {
		b.WriteString(e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return Fingerprint([]byte(b.String()))
}

// ChangeDetector decides which parsed entries are new or revised.
type ChangeDetector struct {
	items repository.ItemRepository
}

func NewChangeDetector(items repository.ItemRepository) *ChangeDetector {
	return &ChangeDetector{items: items}
}

// Unchanged reports whether the payload fingerprint equals the one stored for src.
func (d *ChangeDetector) Unchanged(src *entity.FeedSource, fingerprint string) bool {
	return src.Health.LastFingerprint != "" && src.Health.LastFingerprint == fingerprint
}

// Detect builds DiscoveredItems for entries that are unknown or whose entry
// fingerprint differs from the latest stored revision. Duplicate entries
// within one payload are collapsed to the first occurrence.
func (d *ChangeDetector) Detect(ctx context.Context, src *entity.FeedSource, entries []FeedEntry, now time.Time) ([]*entity.DiscoveredItem, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	type candidate struct {
		entry       FeedEntry
		subjectID   string
		fingerprint string
	}
	seen := make(map[string]bool, len(entries))
	candidates := make([]candidate, 0, len(entries))
	subjects := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.URL) == "" && strings.TrimSpace(e.Title) == "" {
			continue
		}
		id := entity.NewItemID(src.ID, strings.TrimSpace(e.URL), strings.TrimSpace(e.Title))
		if seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, candidate{entry: e, subjectID: id, fingerprint: EntryFingerprint(e)})
		subjects = append(subjects, id)
	}

	known, err := d.items.KnownFingerprints(ctx, subjects)
	if err != nil {
		return nil, fmt.Errorf("load known fingerprints: %w", err)
	}

	items := make([]*entity.DiscoveredItem, 0, len(candidates))
	for _, c := range candidates {
		item := &entity.DiscoveredItem{
			ID:           c.subjectID,
			SubjectID:    c.subjectID,
			SourceID:     src.ID,
			Jurisdiction: src.Jurisdiction,
			Title:        strings.TrimSpace(c.entry.Title),
			URL:          strings.TrimSpace(c.entry.URL),
			PublishedAt:  c.entry.PublishedAt,
			UpdatedAt:    c.entry.UpdatedAt,
			ContentType:  c.entry.ContentType,
			Fingerprint:  c.fingerprint,
			Priority:     src.Priority,
			Change:       entity.ChangeCreated,
			Status:       entity.StatusPending,
			DiscoveredAt: now,
		}
		if prev, ok := known[c.subjectID]; ok {
			if prev == c.fingerprint {
				continue
			}
			item.ID = entity.RevisionID(c.subjectID, c.fingerprint)
			item.Change = entity.ChangeUpdated
		}
		items = append(items, item)
	}
	return items, nil
}
