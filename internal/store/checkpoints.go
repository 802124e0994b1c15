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

// AppendCheckpoint records an immutable post-turn snapshot. Checkpoint
// ids are ULIDs, so ordering by id is ordering by creation.
func (s *Store) AppendCheckpoint(ctx context.Context, cp state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO checkpoints (id, project_id, state, phase, turn_count, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.ProjectID, string(blob), string(cp.Phase), cp.TurnCount, cp.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns the most recent checkpoints for a project,
// newest first.
func (s *Store) ListCheckpoints(ctx context.Context, projectID string, limit int) ([]state.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, project_id, state, phase, turn_count, created_at
	FROM checkpoints
	WHERE project_id = ?
	ORDER BY id DESC
	`
	args := []interface{}{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []state.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return cps, nil
}

// LatestCheckpoint returns the most recent checkpoint, if any.
func (s *Store) LatestCheckpoint(ctx context.Context, projectID string) (state.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
	SELECT id, project_id, state, phase, turn_count, created_at
	FROM checkpoints
	WHERE project_id = ?
	ORDER BY id DESC
	LIMIT 1
	`, projectID)

	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return state.Checkpoint{}, false, nil
	}
	if err != nil {
		return state.Checkpoint{}, false, err
	}
	return cp, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(r rowScanner) (state.Checkpoint, error) {
	var cp state.Checkpoint
	var blob, phase string
	var createdAt int64

	if err := r.Scan(&cp.ID, &cp.ProjectID, &blob, &phase, &cp.TurnCount, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return state.Checkpoint{}, err
		}
		return state.Checkpoint{}, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &cp.State); err != nil {
		return state.Checkpoint{}, fmt.Errorf("%w: undecodable checkpoint %s: %v", apperrors.ErrStateCorrupt, cp.ID, err)
	}
	cp.Phase = state.Phase(phase)
	cp.CreatedAt = time.UnixMilli(createdAt).UTC()
	return cp, nil
}
