package storage

import (
	"context"
	"fmt"
	"time"

	"RecipeAcquisition/internal/domain"
)

// Append writes one scrape audit entry.
func (q *queries) Append(ctx context.Context, e domain.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = q.now()
	}
	_, err := q.exec(ctx, q.sb.Insert("scrape_audit").
		Columns("url", "host", "requested_by", "outcome", "detail", "http_status", "duration_ms", "at").
		Values(e.URL, e.Host, e.RequestedBy, e.Outcome, e.Detail, e.HTTPStatus, e.Duration.Milliseconds(), formatTime(at)))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit entries first.
func (q *queries) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.query(ctx, q.sb.Select("url", "host", "requested_by", "outcome", "detail", "http_status", "duration_ms", "at").
		From("scrape_audit").
		OrderBy("id DESC").
		Limit(uint64(limit)))
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e        domain.AuditEntry
			duration int64
			at       string
		)
		if err := rows.Scan(&e.URL, &e.Host, &e.RequestedBy, &e.Outcome, &e.Detail, &e.HTTPStatus, &duration, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Duration = time.Duration(duration) * time.Millisecond
		e.At = parseTime(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}
