package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"RecipeAcquisition/internal/domain"
)

// CreateDraft inserts a new draft at version 1.
func (q *queries) CreateDraft(ctx context.Context, draft domain.RecipeDraft) error {
	now := q.now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = draft.CreatedAt
	draft.Version = 1

	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = q.exec(ctx, q.sb.Insert("drafts").
		Columns("id", "job_id", "source_url", "status", "low_confidence", "payload", "version", "recipe_id", "created_at", "updated_at").
		Values(draft.ID, draft.JobID, draft.SourceURL, string(draft.Status), boolInt(draft.LowConfidence), string(payload),
			draft.Version, nullableID(draft.RecipeID), formatTime(draft.CreatedAt), formatTime(draft.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("insert draft %s: %w", draft.ID, err)
	}
	return nil
}

// GetDraft loads a draft or returns ErrNotFound.
func (q *queries) GetDraft(ctx context.Context, id string) (domain.RecipeDraft, error) {
	row, err := q.queryRow(ctx, q.selectDrafts().Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.RecipeDraft{}, err
	}
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecipeDraft{}, fmt.Errorf("draft %s: %w", id, domain.ErrNotFound)
	}
	return d, err
}

// UpdateDraft writes draft if its version still matches the stored one and returns the
// stored copy with the incremented version.
func (q *queries) UpdateDraft(ctx context.Context, draft domain.RecipeDraft) (domain.RecipeDraft, error) {
	expected := draft.Version
	draft.Version = expected + 1
	draft.UpdatedAt = q.now()

	payload, err := json.Marshal(draft)
	if err != nil {
		return domain.RecipeDraft{}, fmt.Errorf("marshal draft: %w", err)
	}
	res, err := q.exec(ctx, q.sb.Update("drafts").
		Set("job_id", draft.JobID).
		Set("source_url", draft.SourceURL).
		Set("status", string(draft.Status)).
		Set("low_confidence", boolInt(draft.LowConfidence)).
		Set("payload", string(payload)).
		Set("version", draft.Version).
		Set("recipe_id", nullableID(draft.RecipeID)).
		Set("updated_at", formatTime(draft.UpdatedAt)).
		Where(sq.Eq{"id": draft.ID, "version": expected}))
	if err != nil {
		return domain.RecipeDraft{}, fmt.Errorf("update draft %s: %w", draft.ID, err)
	}
	if affected(res) == 0 {
		if _, err := q.GetDraft(ctx, draft.ID); err != nil {
			return domain.RecipeDraft{}, err
		}
		return domain.RecipeDraft{}, fmt.Errorf("draft %s at version %d: %w", draft.ID, expected, domain.ErrStaleDraft)
	}
	return draft, nil
}

// ListDrafts returns drafts by most recent update; an empty status lists all.
func (q *queries) ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.RecipeDraft, error) {
	b := q.selectDrafts().OrderBy("updated_at DESC", "id")
	if status != "" {
		b = b.Where(sq.Eq{"status": string(status)})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := q.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipeDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	return out, nil
}

func (q *queries) selectDrafts() sq.SelectBuilder {
	return q.sb.Select("payload", "status", "version", "created_at", "updated_at").From("drafts")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (domain.RecipeDraft, error) {
	var (
		d                  domain.RecipeDraft
		payload, status    string
		version            int
		created, updatedAt string
	)
	if err := row.Scan(&payload, &status, &version, &created, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, fmt.Errorf("scan draft: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, fmt.Errorf("decode draft: %w", err)
	}
	d.Status = domain.DraftStatus(status)
	d.Version = version
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
