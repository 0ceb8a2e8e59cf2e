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

type DLQRepo struct{ *Store }

var _ repository.DLQRepository = (*DLQRepo)(nil)

var dlqColumns = []string{
	"id", "topic", "msg_key", "payload", "headers", "dependency", "failure_kind", "error_message",
	"failure_count", "first_failure_at", "last_failure_at", "recovery_attempted", "recovery_successful",
}

func scanDLQ(rows *sql.Rows) (*entity.DLQMessage, error) {
	var (
		m             entity.DLQMessage
		headers       sql.NullString
		first, latest string
	)
	if err := rows.Scan(
		&m.ID, &m.Topic, &m.Key, &m.Payload, &headers, &m.Dependency, &m.FailureKind, &m.ErrorMessage,
		&m.FailureCount, &first, &latest, &m.RecoveryAttempted, &m.RecoverySuccessful,
	); err != nil {
		return nil, err
	}
	if headers.Valid {
		if err := json.Unmarshal([]byte(headers.String), &m.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	var err error
	if m.FirstFailureAt, err = parseTime(first); err != nil {
		return nil, err
	}
	if m.LastFailureAt, err = parseTime(latest); err != nil {
		return nil, err
	}
	return &m, nil
}

func (repo *DLQRepo) Save(ctx context.Context, m *entity.DLQMessage) error {
	headers, err := marshalJSON(m.Headers)
	if err != nil {
		return fmt.Errorf("Save: marshal headers: %w", err)
	}
	_, err = repo.exec(ctx, repo.sb.Insert("dlq_messages").Columns(dlqColumns...).Values(
		m.ID, m.Topic, m.Key, m.Payload, headers, m.Dependency, string(m.FailureKind), m.ErrorMessage,
		m.FailureCount, formatTime(m.FirstFailureAt), formatTime(m.LastFailureAt), m.RecoveryAttempted, m.RecoverySuccessful,
	))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (repo *DLQRepo) Get(ctx context.Context, id string) (*entity.DLQMessage, error) {
	rows, err := repo.query(ctx, repo.sb.Select(dlqColumns...).From("dlq_messages").Where(sq.Eq{"id": id}).Limit(1))
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
	m, err := scanDLQ(rows)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return m, nil
}

func (repo *DLQRepo) List(ctx context.Context, filter repository.DLQFilter) ([]*entity.DLQMessage, error) {
	q := repo.sb.Select(dlqColumns...).From("dlq_messages").OrderBy("first_failure_at ASC", "id ASC")
	if filter.Topic != "" {
		q = q.Where(sq.Eq{"topic": filter.Topic})
	}
	if len(filter.ExcludeKinds) > 0 {
		kinds := make([]string, len(filter.ExcludeKinds))
		for i, k := range filter.ExcludeKinds {
			kinds[i] = string(k)
		}
		q = q.Where(sq.NotEq{"failure_kind": kinds})
	}
	if len(filter.ExcludeDependencies) > 0 {
		q = q.Where(sq.NotEq{"dependency": filter.ExcludeDependencies})
	}
	if filter.MaxFailureCount > 0 {
		q = q.Where(sq.LtOrEq{"failure_count": filter.MaxFailureCount})
	}
	if !filter.FailedSince.IsZero() {
		q = q.Where(sq.GtOrEq{"first_failure_at": formatTime(filter.FailedSince)})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	rows, err := repo.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := make([]*entity.DLQMessage, 0)
	for rows.Next() {
		m, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Update writes the recovery bookkeeping of m.
func (repo *DLQRepo) Update(ctx context.Context, m *entity.DLQMessage) error {
	res, err := repo.exec(ctx, repo.sb.Update("dlq_messages").
		Set("failure_kind", string(m.FailureKind)).
		Set("error_message", m.ErrorMessage).
		Set("failure_count", m.FailureCount).
		Set("last_failure_at", formatTime(m.LastFailureAt)).
		Set("recovery_attempted", m.RecoveryAttempted).
		Set("recovery_successful", m.RecoverySuccessful).
		Where(sq.Eq{"id": m.ID}))
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return requireAffected(res, "Update", m.ID)
}

func (repo *DLQRepo) Delete(ctx context.Context, id string) error {
	res, err := repo.exec(ctx, repo.sb.Delete("dlq_messages").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return requireAffected(res, "Delete", id)
}

func (repo *DLQRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := repo.exec(ctx, repo.sb.Delete("dlq_messages").Where(sq.Lt{"first_failure_at": formatTime(cutoff)}))
	if err != nil {
		return 0, fmt.Errorf("DeleteOlderThan: %w", err)
	}
	return res.RowsAffected()
}

// Trim deletes all but the keep messages with the newest first failure.
func (repo *DLQRepo) Trim(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	offset := fmt.Sprintf("OFFSET %d", keep)
	if repo.dialect == SQLite {
		offset = "LIMIT -1 " + offset
	}
	oldest := repo.sb.Select("id").From("dlq_messages").OrderBy("first_failure_at DESC", "id DESC").Suffix(offset)

	res, err := repo.exec(ctx, repo.sb.Delete("dlq_messages").Where(sq.Expr("id IN (?)", oldest)))
	if err != nil {
		return 0, fmt.Errorf("Trim: %w", err)
	}
	return res.RowsAffected()
}

func (repo *DLQRepo) CountByTopic(ctx context.Context) (map[string]int, error) {
	rows, err := repo.query(ctx, repo.sb.Select("topic", "COUNT(*)").From("dlq_messages").GroupBy("topic"))
	if err != nil {
		return nil, fmt.Errorf("CountByTopic: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			topic string
			n     int
		)
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("CountByTopic: %w", err)
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}
