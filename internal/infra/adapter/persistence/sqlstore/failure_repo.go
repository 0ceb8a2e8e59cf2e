package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

type FailureRepo struct{ *Store }

var _ repository.FailureRepository = (*FailureRepo)(nil)

func (repo *FailureRepo) Save(ctx context.Context, r entity.FailureRecord) error {
	_, err := repo.exec(ctx, repo.sb.Insert("failure_records").
		Columns("id", "component", "operation", "kind", "message", "occurred_at", "retry_count", "resolved").
		Values(r.ID, r.Component, r.Operation, string(r.Kind), r.Message, formatTime(r.OccurredAt), r.RetryCount, r.Resolved))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (repo *FailureRepo) ListSince(ctx context.Context, since time.Time) ([]entity.FailureRecord, error) {
	rows, err := repo.query(ctx, repo.sb.
		Select("id", "component", "operation", "kind", "message", "occurred_at", "retry_count", "resolved").
		From("failure_records").
		Where(sq.GtOrEq{"occurred_at": formatTime(since)}).
		OrderBy("occurred_at ASC", "id ASC"))
	if err != nil {
		return nil, fmt.Errorf("ListSince: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []entity.FailureRecord
	for rows.Next() {
		var (
			r          entity.FailureRecord
			occurredAt string
		)
		if err := rows.Scan(&r.ID, &r.Component, &r.Operation, &r.Kind, &r.Message, &occurredAt, &r.RetryCount, &r.Resolved); err != nil {
			return nil, fmt.Errorf("ListSince: %w", err)
		}
		if r.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("ListSince: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Trim deletes all but the newest keep records.
func (repo *FailureRepo) Trim(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	// SQLite only accepts OFFSET together with LIMIT; -1 means no limit.
	offset := fmt.Sprintf("OFFSET %d", keep)
	if repo.dialect == SQLite {
		offset = "LIMIT -1 " + offset
	}
	oldest := repo.sb.Select("id").From("failure_records").OrderBy("occurred_at DESC", "id DESC").Suffix(offset)

	res, err := repo.exec(ctx, repo.sb.Delete("failure_records").Where(sq.Expr("id IN (?)", oldest)))
	if err != nil {
		return 0, fmt.Errorf("Trim: %w", err)
	}
	return res.RowsAffected()
}

type SnapshotRepo struct{ *Store }

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

var snapshotColumns = []string{"taken_at", "total", "active", "healthy", "warning", "error_count", "unknown", "healthy_ratio"}

func (repo *SnapshotRepo) Save(ctx context.Context, s entity.HealthSnapshot) error {
	_, err := repo.exec(ctx, repo.sb.Insert("health_snapshots").Columns(snapshotColumns...).
		Values(formatTime(s.TakenAt), s.Total, s.Active, s.Healthy, s.Warning, s.Error, s.Unknown, s.HealthyRatio))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (repo *SnapshotRepo) Latest(ctx context.Context) (*entity.HealthSnapshot, error) {
	rows, err := repo.query(ctx, repo.sb.Select(snapshotColumns...).From("health_snapshots").OrderBy("taken_at DESC").Limit(1))
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("Latest: %w", err)
		}
		return nil, fmt.Errorf("Latest: %w", entity.ErrNotFound)
	}
	var (
		s       entity.HealthSnapshot
		takenAt string
		ratio   sql.NullFloat64
	)
	if err := rows.Scan(&takenAt, &s.Total, &s.Active, &s.Healthy, &s.Warning, &s.Error, &s.Unknown, &ratio); err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	s.HealthyRatio = ratio.Float64
	if s.TakenAt, err = parseTime(takenAt); err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return &s, nil
}
