package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_AppendAndLatest(t *testing.T) {
	j := NewJournal(4)

	_, ok := j.Latest("p1")
	assert.False(t, ok)

	cp1 := NewCheckpoint("p1", Project{Title: "one"}, 1)
	cp2 := NewCheckpoint("p1", Project{Title: "two"}, 2)
	j.Append(cp1)
	j.Append(cp2)

	latest, ok := j.Latest("p1")
	require.True(t, ok)
	assert.Equal(t, cp2.ID, latest.ID)
	assert.Equal(t, "two", latest.State.Title)
	assert.Equal(t, 2, j.Len("p1"))
}

func TestJournal_EvictsOldestAtCapacity(t *testing.T) {
	j := NewJournal(3)
	var ids []string
	for i := 1; i <= 5; i++ {
		cp := NewCheckpoint("p1", Project{Title: fmt.Sprintf("turn %d", i)}, i)
		ids = append(ids, cp.ID)
		j.Append(cp)
	}

	assert.Equal(t, 3, j.Len("p1"))

	_, ok := j.At("p1", ids[0])
	assert.False(t, ok, "oldest checkpoint should be evicted")
	_, ok = j.At("p1", ids[4])
	assert.True(t, ok)

	latest, ok := j.Latest("p1")
	require.True(t, ok)
	assert.Equal(t, 5, latest.TurnCount)
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := NewJournal(8)
	for i := 1; i <= 3; i++ {
		j.Append(NewCheckpoint("p1", Project{}, i))
	}

	list := j.List("p1")
	require.Len(t, list, 3)
	assert.Equal(t, 3, list[0].TurnCount)
	assert.Equal(t, 1, list[2].TurnCount)
}

func TestJournal_ProjectsAreIsolated(t *testing.T) {
	j := NewJournal(2)
	j.Append(NewCheckpoint("p1", Project{Title: "a"}, 1))
	j.Append(NewCheckpoint("p2", Project{Title: "b"}, 1))

	latest, ok := j.Latest("p1")
	require.True(t, ok)
	assert.Equal(t, "a", latest.State.Title)

	j.Forget("p1")
	_, ok = j.Latest("p1")
	assert.False(t, ok)
	_, ok = j.Latest("p2")
	assert.True(t, ok)
}

func TestJournal_ColdProjectsFallOut(t *testing.T) {
	j := NewJournal(2)
	j.Append(NewCheckpoint("cold", Project{Title: "cold"}, 1))

	// Fill the cache with fresher projects until the cold one is the
	// least recently used entry left standing.
	for i := 0; i < maxTrackedProjects; i++ {
		j.Append(NewCheckpoint(fmt.Sprintf("p%d", i), Project{}, 1))
	}

	_, ok := j.Latest("cold")
	assert.False(t, ok, "cold project should have been evicted")
	assert.Equal(t, 0, j.Len("cold"))
}

func TestNewCheckpoint_SnapshotsState(t *testing.T) {
	p := Project{Title: "Chimney", Materials: []string{"brick"}}
	cp := NewCheckpoint("p1", p, 3)

	require.NotEmpty(t, cp.ID)
	assert.Equal(t, "p1", cp.ProjectID)
	assert.Equal(t, 3, cp.TurnCount)
	assert.False(t, cp.CreatedAt.IsZero())

	// snapshot is detached from the live draft
	p.Materials[0] = "granite"
	assert.Equal(t, []string{"brick"}, cp.State.Materials)
}

func TestCheckpointIDs_SortByCreation(t *testing.T) {
	a := NewCheckpoint("p1", Project{}, 1)
	b := NewCheckpoint("p1", Project{}, 2)
	assert.Less(t, a.ID, b.ID)
}

func TestHintFor_Phases(t *testing.T) {
	assert.Equal(t, PhaseIntake, PhaseFor(Project{}))

	story := Project{Highlight: "Rebuilt a chimney"}
	assert.Equal(t, PhaseImagery, PhaseFor(story))

	withImages := Project{Highlight: "Rebuilt a chimney", Images: []Image{{ID: "img-1"}}}
	assert.Equal(t, PhaseDrafting, PhaseFor(withImages))

	drafted := withImages
	drafted.Title = "Chimney Rebuild"
	drafted.Description = "Teardown and rebuild."
	assert.Equal(t, PhaseReview, PhaseFor(drafted))
}

func TestHintFor_Flags(t *testing.T) {
	h := HintFor(Project{Materials: []string{"brick"}, Images: []Image{{ID: "i"}}})
	assert.True(t, h.HasNarrative)
	assert.True(t, h.HasImages)
	assert.False(t, h.HasCopy)
}
