package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/state"
)

// AddImage registers an uploaded photo. An empty id gets a generated
// one; the stored image is returned either way.
func (s *Store) AddImage(ctx context.Context, projectID string, img state.Image) (state.Image, error) {
	if img.URL == "" {
		return state.Image{}, fmt.Errorf("%w: image url is required", apperrors.ErrInvalidInput)
	}
	if img.ID == "" {
		img.ID = "img_" + strings.ToLower(ulid.Make().String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var position int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE project_id = ?`, projectID,
	).Scan(&position); err != nil {
		return state.Image{}, fmt.Errorf("failed to count images: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO images (id, project_id, url, role, alt_text, position, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id, id) DO UPDATE SET
		url = excluded.url,
		role = excluded.role,
		alt_text = excluded.alt_text
	`, img.ID, projectID, img.URL, img.Role, img.AltText, position, time.Now().UnixMilli())
	if err != nil {
		return state.Image{}, fmt.Errorf("failed to add image: %w", err)
	}

	img.Order = position
	return img, nil
}

// LoadImages returns every registered photo for a project in display
// order.
func (s *Store) LoadImages(ctx context.Context, projectID string) ([]state.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, url, role, alt_text, position
	FROM images
	WHERE project_id = ?
	ORDER BY position, created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var imgs []state.Image
	for rows.Next() {
		var img state.Image
		if err := rows.Scan(&img.ID, &img.URL, &img.Role, &img.AltText, &img.Order); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		imgs = append(imgs, img)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating images: %w", err)
	}
	return imgs, nil
}

// ReorderImages rewrites registry positions. The id list must be a
// permutation of the project's current image ids.
func (s *Store) ReorderImages(ctx context.Context, projectID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM images WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("failed to list image ids: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan image id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating image ids: %w", err)
	}
	rows.Close()

	if len(ids) != len(existing) {
		return fmt.Errorf("%w: order lists %d images, project has %d", apperrors.ErrInvalidInput, len(ids), len(existing))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("%w: duplicate image id %q", apperrors.ErrInvalidInput, id)
		}
		if !existing[id] {
			return fmt.Errorf("%w: unknown image id %q", apperrors.ErrInvalidInput, id)
		}
		seen[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE images SET position = ? WHERE project_id = ? AND id = ?`,
			i, projectID, id,
		); err != nil {
			return fmt.Errorf("failed to reposition image %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder: %w", err)
	}
	return nil
}
