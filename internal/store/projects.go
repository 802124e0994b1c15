package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/state"
)

// ProjectInfo is the stored view of a project: the draft plus the
// bookkeeping columns around it.
type ProjectInfo struct {
	ID          string
	State       state.Project
	Phase       state.Phase
	TurnCount   int
	PublishedAt int64 // unix ms, 0 = not published
	CreatedAt   int64 // unix ms
	UpdatedAt   int64 // unix ms
}

// Published reports whether the project has gone live.
func (p *ProjectInfo) Published() bool { return p.PublishedAt > 0 }

// LoadProjectState returns the current draft, or a zero-valued project
// when none has been saved yet.
func (s *Store) LoadProjectState(ctx context.Context, projectID string) (state.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM projects WHERE id = ?`, projectID).Scan(&blob)
	if err == sql.ErrNoRows {
		return state.Project{}, nil
	}
	if err != nil {
		return state.Project{}, fmt.Errorf("failed to load project state: %w", err)
	}

	var p state.Project
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return state.Project{}, fmt.Errorf("%w: undecodable state for %s: %v", apperrors.ErrStateCorrupt, projectID, err)
	}
	return p, nil
}

// SaveProjectState upserts the draft and syncs the image registry so
// registry rows always mirror the draft's roles, alt text and order.
func (s *Store) SaveProjectState(ctx context.Context, projectID string, p state.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project state: %w", err)
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO projects (id, state, phase, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		phase = excluded.phase,
		updated_at = excluded.updated_at
	`, projectID, string(blob), string(state.PhaseFor(p)), now, now)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	for i, img := range p.Images {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO images (id, project_id, url, role, alt_text, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, id) DO UPDATE SET
			url = excluded.url,
			role = excluded.role,
			alt_text = excluded.alt_text,
			position = excluded.position
		`, img.ID, projectID, img.URL, img.Role, img.AltText, i, now)
		if err != nil {
			return fmt.Errorf("failed to sync image %s: %w", img.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project save: %w", err)
	}
	return nil
}

// GetProjectInfo retrieves a project with its bookkeeping columns.
// Returns nil when the project does not exist.
func (s *Store) GetProjectInfo(ctx context.Context, projectID string) (*ProjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := &ProjectInfo{}
	var blob, phase string
	var publishedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
	SELECT p.id, p.state, p.phase, p.created_at, p.updated_at, p.published_at,
	       (SELECT COUNT(*) FROM turns t WHERE t.project_id = p.id)
	FROM projects p WHERE p.id = ?
	`, projectID).Scan(
		&info.ID, &blob, &phase, &info.CreatedAt, &info.UpdatedAt, &publishedAt, &info.TurnCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if err := json.Unmarshal([]byte(blob), &info.State); err != nil {
		return nil, fmt.Errorf("%w: undecodable state for %s: %v", apperrors.ErrStateCorrupt, projectID, err)
	}
	info.Phase = state.Phase(phase)
	if publishedAt.Valid {
		info.PublishedAt = publishedAt.Int64
	}
	return info, nil
}

// MarkPublished flips the project live.
func (s *Store) MarkPublished(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET published_at = ?, updated_at = ? WHERE id = ?`,
		now, now, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: project %s", apperrors.ErrNotFound, projectID)
	}
	return nil
}

// LogPublish appends one publish attempt to the audit trail.
func (s *Store) LogPublish(ctx context.Context, projectID, result string, missing []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missingVal sql.NullString
	if len(missing) > 0 {
		blob, err := json.Marshal(missing)
		if err != nil {
			return fmt.Errorf("failed to encode missing list: %w", err)
		}
		missingVal = sql.NullString{String: string(blob), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO publish_log (project_id, result, missing, created_at)
	VALUES (?, ?, ?, ?)
	`, projectID, result, missingVal, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to log publish attempt: %w", err)
	}
	return nil
}
