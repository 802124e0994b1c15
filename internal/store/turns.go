package store

import (
	"context"
	"fmt"
	"time"

	"github.com/knearme/showcase/internal/state"
)

// SaveTurn appends one conversation entry and returns the total number
// of turns recorded for the project.
func (s *Store) SaveTurn(ctx context.Context, projectID, role, content string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO turns (project_id, role, content, created_at)
	VALUES (?, ?, ?, ?)
	`, projectID, role, content, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to save turn: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE project_id = ?`, projectID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

// RecentTurns returns the last limit conversation entries in
// chronological order, for prompting with prior context.
func (s *Store) RecentTurns(ctx context.Context, projectID string, limit int) ([]state.TurnEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT role, content
	FROM turns
	WHERE project_id = ?
	ORDER BY id DESC
	LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var entries []state.TurnEntry
	for rows.Next() {
		var e state.TurnEntry
		if err := rows.Scan(&e.Role, &e.Content); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	// Rows arrive newest first; flip them into conversation order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
