package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

type ItemRepo struct{ *Store }

var _ repository.ItemRepository = (*ItemRepo)(nil)

// insertBatchSize keeps multi-row inserts under SQLite's variable limit.
const insertBatchSize = 200

var itemColumns = []string{
	"id", "subject_id", "source_id", "jurisdiction", "title", "url", "published_at", "updated_at",
	"content_type", "fingerprint", "priority", "change_kind", "status", "failure_reason", "discovered_at",
}

func scanItem(rows *sql.Rows) (*entity.DiscoveredItem, error) {
	var (
		it                     entity.DiscoveredItem
		publishedAt, updatedAt sql.NullString
		discoveredAt           string
	)
	if err := rows.Scan(
		&it.ID, &it.SubjectID, &it.SourceID, &it.Jurisdiction, &it.Title, &it.URL, &publishedAt, &updatedAt,
		&it.ContentType, &it.Fingerprint, &it.Priority, &it.Change, &it.Status, &it.FailureReason, &discoveredAt,
	); err != nil {
		return nil, err
	}
	var err error
	if it.PublishedAt, err = parseTimePtr(publishedAt); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseTimePtr(updatedAt); err != nil {
		return nil, err
	}
	if it.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (repo *ItemRepo) KnownFingerprints(ctx context.Context, subjectIDs []string) (map[string]string, error) {
	known := make(map[string]string, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return known, nil
	}
	rows, err := repo.query(ctx, repo.sb.
		Select("subject_id", "fingerprint").
		From("discovered_items").
		Where(sq.Eq{"subject_id": subjectIDs}).
		OrderBy("discovered_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("KnownFingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Rows arrive oldest first, so the last write per subject is the latest revision.
	for rows.Next() {
		var subject, fp string
		if err := rows.Scan(&subject, &fp); err != nil {
			return nil, fmt.Errorf("KnownFingerprints: %w", err)
		}
		known[subject] = fp
	}
	return known, rows.Err()
}

func (repo *ItemRepo) SaveBatch(ctx context.Context, items []*entity.DiscoveredItem) error {
	for start := 0; start < len(items); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(items) {
			end = len(items)
		}
		stmt := repo.sb.Insert("discovered_items").Columns(itemColumns...)
		for _, it := range items[start:end] {
			status := it.Status
			if status == "" {
				status = entity.StatusPending
			}
			stmt = stmt.Values(
				it.ID, it.SubjectID, it.SourceID, it.Jurisdiction, it.Title, it.URL,
				formatTimePtr(it.PublishedAt), formatTimePtr(it.UpdatedAt),
				it.ContentType, it.Fingerprint, string(it.Priority), string(it.Change), string(status), it.FailureReason,
				formatTime(it.DiscoveredAt),
			)
		}
		if _, err := repo.exec(ctx, stmt.Suffix("ON CONFLICT (id) DO NOTHING")); err != nil {
			return fmt.Errorf("SaveBatch: %w", err)
		}
	}
	return nil
}

func (repo *ItemRepo) Get(ctx context.Context, id string) (*entity.DiscoveredItem, error) {
	rows, err := repo.query(ctx, repo.sb.Select(itemColumns...).From("discovered_items").Where(sq.Eq{"id": id}).Limit(1))
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
	it, err := scanItem(rows)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return it, nil
}

// UpdateStatus is a compare-and-set on the stored status.
func (repo *ItemRepo) UpdateStatus(ctx context.Context, id string, from, to entity.ProcessingStatus, reason string) error {
	if !entity.CanTransition(from, to) {
		return fmt.Errorf("UpdateStatus %s %s->%s: %w", id, from, to, entity.ErrInvalidTransition)
	}
	res, err := repo.exec(ctx, repo.sb.Update("discovered_items").
		Set("status", string(to)).
		Set("failure_reason", reason).
		Where(sq.Eq{"id": id, "status": string(from)}))
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	if n > 0 {
		return nil
	}

	stored, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("UpdateStatus %s: %w", id, entity.ErrNotFound)
		}
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	return fmt.Errorf("UpdateStatus %s %s->%s (stored %s): %w", id, from, to, stored.Status, entity.ErrInvalidTransition)
}

func (repo *ItemRepo) ListByStatus(ctx context.Context, statuses ...entity.ProcessingStatus) ([]*entity.DiscoveredItem, error) {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	rows, err := repo.query(ctx, repo.sb.
		Select(itemColumns...).
		From("discovered_items").
		Where(sq.Eq{"status": values}).
		OrderBy("discovered_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("ListByStatus: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*entity.DiscoveredItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByStatus: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
