package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "showcase.db")
	store, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func draftProject() state.Project {
	return state.Project{
		Title:       "Chimney Rebuild in Maple Grove",
		Description: "Full tear-down and rebuild of a 1920s chimney.",
		Problem:     "the original stack was crumbling and leaking",
		Materials:   []string{"red clay brick"},
		Techniques:  []string{"tuckpointing"},
		HeroImageID: "img_1",
		Images: []state.Image{
			{ID: "img_1", URL: "https://cdn.example.com/1.jpg", Role: state.RoleHero, AltText: "finished chimney"},
			{ID: "img_2", URL: "https://cdn.example.com/2.jpg", Role: state.RoleDetail, AltText: "mortar detail"},
		},
	}
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	tables := []string{"projects", "images", "checkpoints", "turns", "publish_log", "meta"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var idxCount int
	err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_%'").Scan(&idxCount)
	require.NoError(t, err)
	assert.Greater(t, idxCount, 0, "indices should be created")

	var version string
	err = store.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "2", version)
}

func TestProjectState_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Absent project loads as a zero draft, not an error.
	p, err := store.LoadProjectState(ctx, "proj_1")
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())

	draft := draftProject()
	require.NoError(t, store.SaveProjectState(ctx, "proj_1", draft))

	loaded, err := store.LoadProjectState(ctx, "proj_1")
	require.NoError(t, err)
	assert.Equal(t, draft.Title, loaded.Title)
	assert.Equal(t, draft.Materials, loaded.Materials)
	assert.Equal(t, "img_1", loaded.HeroImageID)
	require.Len(t, loaded.Images, 2)

	// Re-save with a change; the row updates in place.
	draft.Solution = "rebuilt from the roofline up with a new liner"
	require.NoError(t, store.SaveProjectState(ctx, "proj_1", draft))
	loaded, err = store.LoadProjectState(ctx, "proj_1")
	require.NoError(t, err)
	assert.Equal(t, draft.Solution, loaded.Solution)

	info, err := store.GetProjectInfo(ctx, "proj_1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "proj_1", info.ID)
	assert.Equal(t, state.PhaseReview, info.Phase)
	assert.False(t, info.Published())
	assert.Greater(t, info.CreatedAt, int64(0))

	missing, err := store.GetProjectInfo(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProjectState_SyncsImageRegistry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProjectState(ctx, "proj_1", draftProject()))

	imgs, err := store.LoadImages(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, "img_1", imgs[0].ID)
	assert.Equal(t, state.RoleHero, imgs[0].Role)

	// Flipping the draft's order and alt text must flow to the registry.
	draft := draftProject()
	draft.Images[0], draft.Images[1] = draft.Images[1], draft.Images[0]
	draft.Images[0].AltText = "close-up of fresh tuckpointing"
	require.NoError(t, store.SaveProjectState(ctx, "proj_1", draft))

	imgs, err = store.LoadImages(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, "img_2", imgs[0].ID)
	assert.Equal(t, "close-up of fresh tuckpointing", imgs[0].AltText)
	assert.Equal(t, "img_1", imgs[1].ID)
}

func TestImages_AddAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddImage(ctx, "proj_1", state.Image{URL: "https://cdn.example.com/a.jpg"})
	require.NoError(t, err)
	assert.Contains(t, first.ID, "img_")
	assert.Equal(t, 0, first.Order)

	second, err := store.AddImage(ctx, "proj_1", state.Image{ID: "img_b", URL: "https://cdn.example.com/b.jpg", AltText: "before shot"})
	require.NoError(t, err)
	assert.Equal(t, "img_b", second.ID)
	assert.Equal(t, 1, second.Order)

	_, err = store.AddImage(ctx, "proj_1", state.Image{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	imgs, err := store.LoadImages(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, first.ID, imgs[0].ID)
	assert.Equal(t, "before shot", imgs[1].AltText)
}

func TestImages_Reorder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"img_a", "img_b", "img_c"} {
		_, err := store.AddImage(ctx, "proj_1", state.Image{ID: id, URL: "https://cdn.example.com/" + id + ".jpg"})
		require.NoError(t, err)
	}

	require.NoError(t, store.ReorderImages(ctx, "proj_1", []string{"img_c", "img_a", "img_b"}))

	imgs, err := store.LoadImages(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, imgs, 3)
	assert.Equal(t, "img_c", imgs[0].ID)
	assert.Equal(t, "img_a", imgs[1].ID)
	assert.Equal(t, "img_b", imgs[2].ID)

	err = store.ReorderImages(ctx, "proj_1", []string{"img_a", "img_b"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = store.ReorderImages(ctx, "proj_1", []string{"img_a", "img_b", "img_x"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	err = store.ReorderImages(ctx, "proj_1", []string{"img_a", "img_a", "img_b"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCheckpoints_AppendListLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	draft := state.Project{}
	var last state.Checkpoint
	for i := 1; i <= 3; i++ {
		draft.Materials = append(draft.Materials, []string{"brick", "mortar", "flashing"}[i-1])
		last = state.NewCheckpoint("proj_1", draft, i)
		require.NoError(t, store.AppendCheckpoint(ctx, last))
	}

	cps, err := store.ListCheckpoints(ctx, "proj_1", 0)
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, last.ID, cps[0].ID, "newest first")
	assert.Equal(t, 3, cps[0].TurnCount)
	assert.Len(t, cps[0].State.Materials, 3)
	assert.Len(t, cps[2].State.Materials, 1)

	limited, err := store.ListCheckpoints(ctx, "proj_1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, ok, err := store.LatestCheckpoint(ctx, "proj_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last.ID, latest.ID)

	_, ok, err = store.LatestCheckpoint(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTurns_SaveAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lines := []state.TurnEntry{
		{Role: "user", Content: "I rebuilt a chimney"},
		{Role: "assistant", Content: "Tell me more."},
		{Role: "user", Content: "red clay brick, three days"},
		{Role: "assistant", Content: "Got it."},
	}
	for i, l := range lines {
		n, err := store.SaveTurn(ctx, "proj_1", l.Role, l.Content)
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}

	all, err := store.RecentTurns(ctx, "proj_1", 10)
	require.NoError(t, err)
	assert.Equal(t, lines, all, "chronological order")

	lastTwo, err := store.RecentTurns(ctx, "proj_1", 2)
	require.NoError(t, err)
	assert.Equal(t, lines[2:], lastTwo)

	none, err := store.RecentTurns(ctx, "empty", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMarkPublished(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProjectState(ctx, "proj_1", draftProject()))
	require.NoError(t, store.MarkPublished(ctx, "proj_1"))

	info, err := store.GetProjectInfo(ctx, "proj_1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Published())
	assert.Greater(t, info.PublishedAt, int64(0))

	err = store.MarkPublished(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLogPublish(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogPublish(ctx, "proj_1", "rejected", []string{"title", "hero image"}))
	require.NoError(t, store.LogPublish(ctx, "proj_1", "published", nil))

	var count int
	err := store.db.QueryRow("SELECT COUNT(*) FROM publish_log WHERE project_id = 'proj_1'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var missing string
	err = store.db.QueryRow("SELECT missing FROM publish_log WHERE result = 'rejected'").Scan(&missing)
	require.NoError(t, err)
	assert.Contains(t, missing, "hero image")
}

func TestRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A turn past the retention window, inserted directly so the
	// timestamp lands in the past.
	old := time.Now().UnixMilli() - (int64(turnRetentionDays)+1)*24*60*60*1000
	_, err := store.db.Exec(
		`INSERT INTO turns (project_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		"proj_1", "user", "ancient history", old,
	)
	require.NoError(t, err)
	_, err = store.SaveTurn(ctx, "proj_1", "user", "fresh")
	require.NoError(t, err)

	require.NoError(t, store.RunRetention(ctx))

	turns, err := store.RecentTurns(ctx, "proj_1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "fresh", turns[0].Content)
}

func TestLoadProjectState_CorruptBlob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	_, err := store.db.Exec(
		`INSERT INTO projects (id, state, phase, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"proj_1", "{not json", "intake", now, now,
	)
	require.NoError(t, err)

	_, err = store.LoadProjectState(ctx, "proj_1")
	assert.ErrorIs(t, err, apperrors.ErrStateCorrupt)
}

func TestDBSize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveProjectState(ctx, "proj_1", draftProject()))
	}

	size, err := store.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}
