package store

import (
	"context"
	"fmt"
	"time"
)

// Retention policy. Checkpoints beyond the per-project cap and old
// conversation turns are pruned; project state itself is never touched.
const (
	checkpointsPerProject = 200
	turnRetentionDays     = 90
	publishLogDays        = 365
)

// RunRetention cleans up old data according to retention policies.
func (s *Store) RunRetention(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	// Checkpoints beyond the newest N per project. ULID ids order by
	// creation, so ranking by id is ranking by age.
	_, err := s.db.ExecContext(ctx, `
	DELETE FROM checkpoints WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY project_id ORDER BY id DESC
			) AS rn
			FROM checkpoints
		) WHERE rn > ?
	)`, checkpointsPerProject)
	if err != nil {
		return fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	turnCutoff := now - (turnRetentionDays * 24 * 60 * 60 * 1000)
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM turns WHERE created_at < ?",
		turnCutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old turns: %w", err)
	}

	publishCutoff := now - (publishLogDays * 24 * 60 * 60 * 1000)
	_, err = s.db.ExecContext(ctx,
		"DELETE FROM publish_log WHERE created_at < ?",
		publishCutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old publish log entries: %w", err)
	}

	return nil
}

// DBSizeBytes returns the database size in bytes.
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
