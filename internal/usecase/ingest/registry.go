package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

// SyncStats reports the effect of SyncSources.
type SyncStats struct {
	Upserted    int
	Deactivated int
}

// SyncSources writes the configured sources to storage and deactivates stored
// sources that are no longer configured. Stored health is preserved.
func SyncSources(ctx context.Context, repo repository.SourceRepository, configured []*entity.FeedSource, logger *slog.Logger) (SyncStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats SyncStats

	want := make(map[string]bool, len(configured))
	for _, src := range configured {
		if err := src.Validate(); err != nil {
			return stats, fmt.Errorf("source %q: %w", src.ID, err)
		}
		if want[src.ID] {
			return stats, fmt.Errorf("source %q: duplicate id", src.ID)
		}
		want[src.ID] = true
	}

	for _, src := range configured {
		if err := repo.Upsert(ctx, src); err != nil {
			return stats, fmt.Errorf("upsert source %s: %w", src.ID, err)
		}
		stats.Upserted++
	}

	stored, err := repo.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list sources: %w", err)
	}
	for _, src := range stored {
		if want[src.ID] || !src.Active {
			continue
		}
		if err := repo.Deactivate(ctx, src.ID); err != nil {
			return stats, fmt.Errorf("deactivate source %s: %w", src.ID, err)
		}
		stats.Deactivated++
		logger.Info("feed source deactivated", slog.String("source_id", src.ID))
	}
	return stats, nil
}
