package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

type SourceRepo struct{ *Store }

var _ repository.SourceRepository = (*SourceRepo)(nil)

var sourceColumns = []string{
	"id", "name", "url", "jurisdiction", "format", "poll_interval_ms", "active", "priority",
	"headers", "scraper_config",
	"health_status", "last_poll_at", "last_success_at", "consecutive_failures",
	"total_polls", "successful_polls", "last_fingerprint", "last_error", "last_latency_ms",
}

func scanSource(rows *sql.Rows) (*entity.FeedSource, error) {
	var (
		src                       entity.FeedSource
		intervalMS, latencyMS     int64
		headers, scraper          sql.NullString
		lastPollAt, lastSuccessAt sql.NullString
		status                    string
	)
	if err := rows.Scan(
		&src.ID, &src.Name, &src.URL, &src.Jurisdiction, &src.Format, &intervalMS, &src.Active, &src.Priority,
		&headers, &scraper,
		&status, &lastPollAt, &lastSuccessAt, &src.Health.ConsecutiveFailures,
		&src.Health.TotalPolls, &src.Health.SuccessfulPolls, &src.Health.LastFingerprint, &src.Health.LastError, &latencyMS,
	); err != nil {
		return nil, err
	}
	src.PollInterval = time.Duration(intervalMS) * time.Millisecond
	src.Health.LastLatency = time.Duration(latencyMS) * time.Millisecond
	src.Health.Status = entity.HealthStatus(status)

	if headers.Valid {
		if err := json.Unmarshal([]byte(headers.String), &src.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if scraper.Valid {
		var cfg entity.ScraperConfig
		if err := json.Unmarshal([]byte(scraper.String), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal scraper_config: %w", err)
		}
		src.Scraper = &cfg
	}
	var err error
	if src.Health.LastPollAt, err = parseTimePtr(lastPollAt); err != nil {
		return nil, err
	}
	if src.Health.LastSuccessAt, err = parseTimePtr(lastSuccessAt); err != nil {
		return nil, err
	}
	return &src, nil
}

func (repo *SourceRepo) Get(ctx context.Context, id string) (*entity.FeedSource, error) {
	rows, err := repo.query(ctx, repo.sb.Select(sourceColumns...).From("feed_sources").Where(sq.Eq{"id": id}).Limit(1))
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("Get: %w", err)
		}
		return nil, fmt.Errorf("Get %s: %w", id, entity.ErrNotFound)
	}
	src, err := scanSource(rows)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return src, nil
}

func (repo *SourceRepo) List(ctx context.Context) ([]*entity.FeedSource, error) {
	rows, err := repo.query(ctx, repo.sb.Select(sourceColumns...).From("feed_sources").OrderBy("id ASC"))
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sources := make([]*entity.FeedSource, 0, 50)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// Upsert writes configuration columns. Health columns are only written for
// new rows, so a restart keeps the last known health.
func (repo *SourceRepo) Upsert(ctx context.Context, src *entity.FeedSource) error {
	headers, err := marshalJSON(src.Headers)
	if err != nil {
		return fmt.Errorf("Upsert: marshal headers: %w", err)
	}
	var scraper sql.NullString
	if src.Scraper != nil {
		if scraper, err = marshalJSON(src.Scraper); err != nil {
			return fmt.Errorf("Upsert: marshal scraper_config: %w", err)
		}
	}
	status := src.Health.Status
	if status == "" {
		status = entity.HealthUnknown
	}

	stmt := repo.sb.Insert("feed_sources").Columns(sourceColumns...).Values(
		src.ID, src.Name, src.URL, src.Jurisdiction, string(src.Format), src.PollInterval.Milliseconds(), src.Active, string(src.Priority),
		headers, scraper,
		string(status), formatTimePtr(src.Health.LastPollAt), formatTimePtr(src.Health.LastSuccessAt), src.Health.ConsecutiveFailures,
		src.Health.TotalPolls, src.Health.SuccessfulPolls, src.Health.LastFingerprint, src.Health.LastError, src.Health.LastLatency.Milliseconds(),
	).Suffix(`ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    url = excluded.url,
    jurisdiction = excluded.jurisdiction,
    format = excluded.format,
    poll_interval_ms = excluded.poll_interval_ms,
    active = excluded.active,
    priority = excluded.priority,
    headers = excluded.headers,
    scraper_config = excluded.scraper_config`)

	if _, err := repo.exec(ctx, stmt); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *SourceRepo) Deactivate(ctx context.Context, id string) error {
	res, err := repo.exec(ctx, repo.sb.Update("feed_sources").Set("active", false).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	return requireAffected(res, "Deactivate", id)
}

func (repo *SourceRepo) UpdateHealth(ctx context.Context, id string, h entity.SourceHealth) error {
	res, err := repo.exec(ctx, repo.sb.Update("feed_sources").SetMap(map[string]interface{}{
		"health_status":        string(h.Status),
		"last_poll_at":         formatTimePtr(h.LastPollAt),
		"last_success_at":      formatTimePtr(h.LastSuccessAt),
		"consecutive_failures": h.ConsecutiveFailures,
		"total_polls":          h.TotalPolls,
		"successful_polls":     h.SuccessfulPolls,
		"last_fingerprint":     h.LastFingerprint,
		"last_error":           h.LastError,
		"last_latency_ms":      h.LastLatency.Milliseconds(),
	}).Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("UpdateHealth: %w", err)
	}
	return requireAffected(res, "UpdateHealth", id)
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, entity.ErrNotFound)
	}
	return nil
}
