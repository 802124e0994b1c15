package state

import (
	"sync"

	"github.com/knearme/showcase/internal/cache"
)

// maxTrackedProjects bounds how many projects keep checkpoints in memory
// at once. Cold projects are evicted least-recently-used; every checkpoint
// still has its durable row in the store.
const maxTrackedProjects = 1024

// Journal keeps a bounded in-memory history of recent checkpoints per
// project, fronting the durable store for cheap latest/point-in-time reads.
// Old entries are superseded, never mutated; beyond capacity the oldest
// entry is dropped (its durable copy remains in the store). Safe for
// concurrent use.
type Journal struct {
	perProject int

	// mu serializes the read-modify-write in Append. Lists are
	// copy-on-write, so readers can share slices freely.
	mu    sync.Mutex
	cache *cache.LRU[string, []Checkpoint]
}

// NewJournal creates a journal holding up to perProject checkpoints per
// project. A capacity below 1 defaults to 1.
func NewJournal(perProject int) *Journal {
	if perProject < 1 {
		perProject = 1
	}
	return &Journal{
		perProject: perProject,
		cache:      cache.New[string, []Checkpoint](maxTrackedProjects),
	}
}

// Append records a checkpoint, evicting the oldest if at capacity.
func (j *Journal) Append(cp Checkpoint) {
	if cp.ProjectID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, _ := j.cache.Get(cp.ProjectID)
	list := make([]Checkpoint, 0, len(prev)+1)
	list = append(append(list, prev...), cp)
	if len(list) > j.perProject {
		list = list[len(list)-j.perProject:]
	}
	j.cache.Put(cp.ProjectID, list)
}

// Latest returns the most recent checkpoint for a project.
func (j *Journal) Latest(projectID string) (Checkpoint, bool) {
	list, ok := j.cache.Get(projectID)
	if !ok || len(list) == 0 {
		return Checkpoint{}, false
	}
	return list[len(list)-1], true
}

// At returns the checkpoint with the given id, if still cached.
func (j *Journal) At(projectID, checkpointID string) (Checkpoint, bool) {
	list, _ := j.cache.Get(projectID)
	for _, cp := range list {
		if cp.ID == checkpointID {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// List returns cached checkpoints newest-first.
func (j *Journal) List(projectID string) []Checkpoint {
	list, _ := j.cache.Get(projectID)
	out := make([]Checkpoint, len(list))
	for i, cp := range list {
		out[len(list)-1-i] = cp
	}
	return out
}

// Len returns the number of cached checkpoints for a project.
func (j *Journal) Len(projectID string) int {
	list, _ := j.cache.Peek(projectID)
	return len(list)
}

// Forget drops all cached checkpoints for a project.
func (j *Journal) Forget(projectID string) {
	j.cache.Delete(projectID)
}
