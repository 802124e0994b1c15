package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knearme/showcase/internal/breaker"
	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/retry"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
	"github.com/knearme/showcase/internal/subagent"
)

type savedTurn struct {
	role    string
	content string
}

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu          sync.Mutex
	states      map[string]state.Project
	images      map[string][]state.Image
	turns       map[string][]savedTurn
	checkpoints map[string][]state.Checkpoint

	loadStateErr  error
	saveStateErr  error
	loadImagesErr error
	checkpointErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:      make(map[string]state.Project),
		images:      make(map[string][]state.Image),
		turns:       make(map[string][]savedTurn),
		checkpoints: make(map[string][]state.Checkpoint),
	}
}

func (s *fakeStore) LoadProjectState(_ context.Context, projectID string) (state.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadStateErr != nil {
		return state.Project{}, s.loadStateErr
	}
	return s.states[projectID].Clone(), nil
}

func (s *fakeStore) SaveProjectState(_ context.Context, projectID string, p state.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveStateErr != nil {
		return s.saveStateErr
	}
	s.states[projectID] = p.Clone()
	return nil
}

func (s *fakeStore) LoadImages(_ context.Context, projectID string) ([]state.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadImagesErr != nil {
		return nil, s.loadImagesErr
	}
	return append([]state.Image(nil), s.images[projectID]...), nil
}

func (s *fakeStore) SaveTurn(_ context.Context, projectID, role, content string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[projectID] = append(s.turns[projectID], savedTurn{role: role, content: content})
	return len(s.turns[projectID]), nil
}

func (s *fakeStore) RecentTurns(_ context.Context, projectID string, limit int) ([]state.TurnEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.turns[projectID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]state.TurnEntry, 0, len(all))
	for _, tr := range all {
		out = append(out, state.TurnEntry{Role: tr.role, Content: tr.content})
	}
	return out, nil
}

func (s *fakeStore) AppendCheckpoint(_ context.Context, cp state.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	s.checkpoints[cp.ProjectID] = append(s.checkpoints[cp.ProjectID], cp)
	return nil
}

func (s *fakeStore) savedState(projectID string) state.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[projectID].Clone()
}

func (s *fakeStore) savedTurns(projectID string) []savedTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedTurn(nil), s.turns[projectID]...)
}

func (s *fakeStore) checkpointCount(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkpoints[projectID])
}

// stubAgent runs a scripted closure and counts invocations.
type stubAgent struct {
	id  subagent.Identity
	run func(cur state.Project, in subagent.TurnInput) (subagent.Result, error)

	mu    sync.Mutex
	calls int
}

func (a *stubAgent) Identity() subagent.Identity { return a.id }

func (a *stubAgent) Run(_ context.Context, cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.run == nil {
		return subagent.Result{Message: "noted", Confidence: 0.5}, nil
	}
	return a.run(cur, in)
}

func (a *stubAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quickRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func compositorStub() *stubAgent {
	return &stubAgent{id: subagent.Compositor, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Message: "I noted what you told me so far.", Confidence: 0.2}, nil
	}}
}

func newTestEngine(t *testing.T, store Store, cfg Config, agents ...subagent.Subagent) *Engine {
	t.Helper()
	cfg.Store = store
	cfg.Agents = agents
	cfg.Logger = zerolog.Nop()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = quickRetry()
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func runTurn(t *testing.T, e *Engine, projectID string, in subagent.TurnInput) ([]stream.Event, error) {
	t.Helper()
	sink := &stream.BufferSink{}
	em := stream.NewEmitter(sink)
	err := e.RunTurn(context.Background(), projectID, in, em)
	return sink.Events(), err
}

func replay(t *testing.T, events []stream.Event) *stream.Reducer {
	t.Helper()
	r, err := stream.Replay(events)
	require.NoError(t, err, "stream must replay cleanly")
	return r
}

func assistantText(t *testing.T, events []stream.Event) string {
	t.Helper()
	r := replay(t, events)
	msgs := r.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text()
}

func TestRunTurn_SequentialNarrative(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		assert.Equal(t, "I rebuilt a chimney using red clay brick", in.Text)
		return subagent.Result{
			Delta: state.Delta{
				Problem:   "the original chimney was crumbling and leaking",
				Materials: []string{"red clay brick"},
			},
			Message:    "Got it. What was the trickiest part of the rebuild?",
			Confidence: 0.6,
			Usage:      stream.Usage{InputTokens: 40, OutputTokens: 18},
		}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "I rebuilt a chimney using red clay brick"})
	require.NoError(t, err)

	r := replay(t, events)
	assert.True(t, r.Done())
	assert.Equal(t, stream.FinishStop, r.FinishReason())
	assert.Equal(t, stream.Usage{InputTokens: 40, OutputTokens: 18}, r.Usage())
	assert.Empty(t, r.Diagnostics())
	assert.Equal(t, "Got it. What was the trickiest part of the rebuild?", assistantText(t, events))

	saved := store.savedState("proj_1")
	assert.Equal(t, "the original chimney was crumbling and leaking", saved.Problem)
	assert.Equal(t, []string{"red clay brick"}, saved.Materials)

	turns := store.savedTurns("proj_1")
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].role)
	assert.Equal(t, "assistant", turns[1].role)

	assert.Equal(t, 1, store.checkpointCount("proj_1"))
	assert.Equal(t, 1, e.Journal().Len("proj_1"))
	cp, ok := e.Journal().Latest("proj_1")
	require.True(t, ok)
	assert.Equal(t, state.PhaseImagery, cp.Phase)
	assert.Equal(t, 1, cp.TurnCount)
}

// Two turns: the story lands first, then two photos arrive and narrative
// and visual run in parallel. Everything captured in turn one must
// survive turn two's merge.
func TestRunTurn_TwoTurnsAccumulateState(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative}
	visual := &stubAgent{id: subagent.Visual}
	e := newTestEngine(t, store, Config{}, narrative, visual, compositorStub())

	narrative.run = func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{
			Delta: state.Delta{
				Problem:   "the original chimney was crumbling and leaking",
				Materials: []string{"red clay brick"},
			},
			Message:    "Got it. Do you have photos?",
			Confidence: 0.6,
		}, nil
	}
	_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "I rebuilt a chimney using red clay brick"})
	require.NoError(t, err)

	imgs := []state.Image{
		{ID: "img_1", URL: "https://cdn.example.com/1.jpg"},
		{ID: "img_2", URL: "https://cdn.example.com/2.jpg"},
	}
	narrative.run = func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		// Turn one's extraction is already visible to turn two.
		assert.Equal(t, []string{"red clay brick"}, cur.Materials)
		return subagent.Result{
			Delta:      state.Delta{Techniques: []string{"tuckpointing"}},
			Message:    "Noted the tuckpointing work.",
			Confidence: 0.5,
		}, nil
	}
	visual.run = func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		require.Len(t, cur.Images, 2)
		return subagent.Result{
			Delta: state.Delta{
				HeroImageID: "img_1",
				Images: []state.Image{
					{ID: "img_1", Role: state.RoleHero, AltText: "finished chimney in red clay brick"},
					{ID: "img_2", Role: state.RoleDetail, AltText: "tuckpointing close-up"},
				},
			},
			Message:    "I set the wide shot as your cover photo.",
			Confidence: 0.7,
			Citations:  []stream.Source{{ID: "img_1", URL: "https://cdn.example.com/1.jpg"}},
		}, nil
	}

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "here are the photos", Images: imgs})
	require.NoError(t, err)

	saved := store.savedState("proj_1")
	assert.Equal(t, "the original chimney was crumbling and leaking", saved.Problem, "turn one narrative must survive")
	assert.Equal(t, []string{"red clay brick"}, saved.Materials)
	assert.Equal(t, []string{"tuckpointing"}, saved.Techniques)
	assert.Equal(t, "img_1", saved.HeroImageID)
	require.Len(t, saved.Images, 2)
	assert.Equal(t, state.RoleHero, saved.Images[0].Role)
	assert.Equal(t, "tuckpointing close-up", saved.Images[1].AltText)

	// Visual spoke with more confidence, so its message is the reply,
	// and its hero citation rides along as a source event.
	assert.Equal(t, "I set the wide shot as your cover photo.", assistantText(t, events))
	var sources int
	for _, ev := range events {
		if ev.Type == stream.EventSource {
			sources++
			assert.Equal(t, "img_1", ev.Source.ID)
		}
	}
	assert.Equal(t, 1, sources)

	assert.Equal(t, 2, store.checkpointCount("proj_1"))
	cp, ok := e.Journal().Latest("proj_1")
	require.True(t, ok)
	assert.Equal(t, state.PhaseDrafting, cp.Phase)
}

func TestRunTurn_ParallelConflictPrecedence(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Delta: state.Delta{Title: "Chimney Story"}, Message: "a", Confidence: 0.4}, nil
	}}
	visual := &stubAgent{id: subagent.Visual, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Delta: state.Delta{Title: "Chimney Rebuild in Maple Grove"}, Message: "b", Confidence: 0.4}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, visual, compositorStub())

	_, err := runTurn(t, e, "proj_1", subagent.TurnInput{
		Text:   "photos attached",
		Images: []state.Image{{ID: "img_1", URL: "https://cdn.example.com/1.jpg"}},
	})
	require.NoError(t, err)

	// Later precedence wins scalar conflicts in the fan-in merge.
	assert.Equal(t, "Chimney Rebuild in Maple Grove", store.savedState("proj_1").Title)
}

func TestRunTurn_TiedConfidenceReplyPrefersEarlierIdentity(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Message: "narrative reply", Confidence: 0.5}, nil
	}}
	visual := &stubAgent{id: subagent.Visual, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Message: "visual reply", Confidence: 0.5}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, visual, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{
		Text:   "photos",
		Images: []state.Image{{ID: "img_1", URL: "https://cdn.example.com/1.jpg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "narrative reply", assistantText(t, events))
}

func TestRunTurn_FailedAgentFallsBackToCompositor(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{}, apperrors.NewUpstreamError("anthropic", 500, "overloaded")
	}}
	comp := compositorStub()
	e := newTestEngine(t, store, Config{}, narrative, comp)

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "I rebuilt a chimney"})
	require.NoError(t, err, "a failed specialist degrades the turn, it does not abort it")

	r := replay(t, events)
	assert.True(t, r.Done())
	require.Len(t, r.Diagnostics(), 1)
	assert.Equal(t, "narrative", r.Diagnostics()[0].Agent)
	assert.Equal(t, 1, comp.callCount())
	assert.Equal(t, "I noted what you told me so far.", assistantText(t, events))
	assert.Equal(t, 1, e.breakers.Failures("narrative"))
}

func TestRunTurn_GenerationFailsClosed(t *testing.T) {
	store := newFakeStore()
	generation := &stubAgent{id: subagent.Generation, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{}, apperrors.NewUpstreamError("anthropic", 503, "unavailable")
	}}
	comp := compositorStub()
	e := newTestEngine(t, store, Config{}, generation, comp)

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "draft it for me"})
	require.NoError(t, err)

	r := replay(t, events)
	assert.True(t, r.Done())
	require.Len(t, r.Diagnostics(), 1)
	assert.Equal(t, "generation", r.Diagnostics()[0].Agent)

	// No compositor stand-in and no invented copy; just an honest reply.
	assert.Equal(t, 0, comp.callCount())
	assert.Contains(t, assistantText(t, events), "snag")
	assert.Empty(t, store.savedState("proj_1").Title)
}

func TestRunTurn_RetriesTransientThenSucceeds(t *testing.T) {
	store := newFakeStore()
	var attempts int32
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return subagent.Result{}, apperrors.NewUpstreamError("anthropic", 529, "overloaded")
		}
		return subagent.Result{Message: "third time lucky", Confidence: 0.6}, nil
	}}
	e := newTestEngine(t, store, Config{
		Retry: retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, narrative, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 3, narrative.callCount())
	assert.Equal(t, "third time lucky", assistantText(t, events))
	assert.Empty(t, replay(t, events).Diagnostics())
	assert.Equal(t, 0, e.breakers.Failures("narrative"))
}

// Five straight failures open the circuit, the sixth turn short-circuits
// to the compositor without touching the agent, and after the cooldown a
// single successful probe closes it again.
func TestRunTurn_BreakerOpensAndRecovers(t *testing.T) {
	store := newFakeStore()
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	breakers := breaker.NewRegistry(
		breaker.Config{FailureThreshold: 5, Cooldown: 30 * time.Second},
		breaker.WithClock(clock),
	)

	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{}, apperrors.NewUpstreamError("anthropic", 500, "boom")
	}}
	comp := compositorStub()
	e := newTestEngine(t, store, Config{Breakers: breakers}, narrative, comp)

	for i := 0; i < 5; i++ {
		_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "tell me about the deck"})
		require.NoError(t, err, "turn %d", i+1)
	}
	assert.Equal(t, 5, narrative.callCount())
	assert.Equal(t, breaker.StatusOpen, breakers.Status("narrative"))

	// Sixth turn: the breaker rejects the call before the agent runs.
	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "still there?"})
	require.NoError(t, err)
	assert.Equal(t, 5, narrative.callCount(), "open circuit must not touch the agent")

	r := replay(t, events)
	assert.True(t, r.Done())
	require.Len(t, r.Diagnostics(), 1)
	assert.Equal(t, "temporarily unavailable", r.Diagnostics()[0].Message)
	assert.Equal(t, "I noted what you told me so far.", assistantText(t, events))

	// After the cooldown one probe is admitted; success closes the circuit.
	clock.Advance(31 * time.Second)
	narrative.run = func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		return subagent.Result{Message: "back online", Confidence: 0.6}, nil
	}
	events, err = runTurn(t, e, "proj_1", subagent.TurnInput{Text: "and now?"})
	require.NoError(t, err)
	assert.Equal(t, 6, narrative.callCount())
	assert.Equal(t, breaker.StatusClosed, breakers.Status("narrative"))
	assert.Equal(t, "back online", assistantText(t, events))
}

func TestRunTurn_SameProjectTurnsSerialize(t *testing.T) {
	store := newFakeStore()
	var active, maxActive int32
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return subagent.Result{Message: "ok", Confidence: 0.5}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "hello"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive), "turns for one project must not overlap")
	assert.Equal(t, 3, store.checkpointCount("proj_1"))
}

func TestRunTurn_SyncsUploadedImagesIntoState(t *testing.T) {
	store := newFakeStore()
	store.images["proj_1"] = []state.Image{
		{ID: "img_9", URL: "https://cdn.example.com/9.jpg", AltText: "before shot"},
	}
	narrative := &stubAgent{id: subagent.Narrative}
	generation := &stubAgent{id: subagent.Generation, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		require.Len(t, cur.Images, 1, "uploads must be visible to agents")
		return subagent.Result{Message: "drafting", Confidence: 0.4}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, generation, compositorStub())

	_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "the homeowner loved it"})
	require.NoError(t, err)

	saved := store.savedState("proj_1")
	require.Len(t, saved.Images, 1)
	assert.Equal(t, "img_9", saved.Images[0].ID)
}

func TestRunTurn_AgentsSeeConversationHistory(t *testing.T) {
	store := newFakeStore()
	var got []state.TurnEntry
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		got = in.History
		return subagent.Result{Message: "noted", Confidence: 0.5}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "it was a chimney rebuild"})
	require.NoError(t, err)
	assert.Empty(t, got, "first turn has no history")

	_, err = runTurn(t, e, "proj_1", subagent.TurnInput{Text: "took about two weeks"})
	require.NoError(t, err)

	require.Len(t, got, 2, "prior user turn and assistant reply, not the current turn")
	assert.Equal(t, state.TurnEntry{Role: "user", Content: "it was a chimney rebuild"}, got[0])
	assert.Equal(t, "assistant", got[1].Role)
	assert.Equal(t, "noted", got[1].Content)
}

// A reorder done between turns lands in the image registry; the next
// turn must adopt that order instead of reverting to the stored draft's.
func TestRunTurn_RegistryOrderIsCanonical(t *testing.T) {
	store := newFakeStore()
	store.states["proj_1"] = state.Project{Images: []state.Image{
		{ID: "img_1", URL: "https://cdn.example.com/1.jpg", Order: 0},
		{ID: "img_2", URL: "https://cdn.example.com/2.jpg", Order: 1},
	}}
	store.images["proj_1"] = []state.Image{
		{ID: "img_2", URL: "https://cdn.example.com/2.jpg", Order: 0},
		{ID: "img_1", URL: "https://cdn.example.com/1.jpg", Order: 1},
	}
	narrative := &stubAgent{id: subagent.Narrative}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	_, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "looks better with the finished shot first"})
	require.NoError(t, err)

	saved := store.savedState("proj_1")
	require.Len(t, saved.Images, 2)
	assert.Equal(t, "img_2", saved.Images[0].ID)
	assert.Equal(t, "img_1", saved.Images[1].ID)
}

func TestRunTurn_ToolEventsStreamLive(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		in.Observer.ToolCallStarted("call_1", "set_project_field", json.RawMessage(`{"field":"title","value":"Chimney Rebuild"}`))
		in.Observer.ToolCallFinished("call_1", "set_project_field", "title set", false)
		return subagent.Result{
			Delta:      state.Delta{Title: "Chimney Rebuild"},
			Message:    "Named it for you.",
			Confidence: 0.6,
		}, nil
	}}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "call it Chimney Rebuild"})
	require.NoError(t, err)

	r := replay(t, events)
	call, ok := r.Call("call_1")
	require.True(t, ok)
	assert.Equal(t, stream.ToolOutputAvailable, call.State)
	assert.Equal(t, "set_project_field", call.Name)
	assert.Equal(t, "title set", call.Output)

	var sawCall, sawResult bool
	for _, ev := range events {
		switch ev.Type {
		case stream.EventToolCall:
			sawCall = true
			assert.False(t, sawResult, "tool.call precedes tool.result")
		case stream.EventToolResult:
			sawResult = true
		}
	}
	assert.True(t, sawCall)
	assert.True(t, sawResult)
}

// A failed attempt must not leave the client waiting on a tool call
// that will never resolve: the engine closes it with an error result.
func TestRunTurn_AbandonedToolCallsAreClosed(t *testing.T) {
	store := newFakeStore()
	narrative := &stubAgent{id: subagent.Narrative, run: func(cur state.Project, in subagent.TurnInput) (subagent.Result, error) {
		in.Observer.ToolCallStarted("call_9", "record_extraction", json.RawMessage(`{"key":"crew_size","value":"3"}`))
		return subagent.Result{}, apperrors.NewUpstreamError("anthropic", 500, "died mid-loop")
	}}
	e := newTestEngine(t, store, Config{}, narrative, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "three of us on the job"})
	require.NoError(t, err)

	r := replay(t, events)
	assert.True(t, r.Done())
	call, ok := r.Call("call_9")
	require.True(t, ok)
	assert.Equal(t, stream.ToolOutputError, call.State)
	assert.Contains(t, call.Output, "abandoned")
}

func TestRunTurn_LoadFailureEmitsTerminalError(t *testing.T) {
	store := newFakeStore()
	store.loadStateErr = apperrors.ErrUnavailable
	e := newTestEngine(t, store, Config{}, &stubAgent{id: subagent.Narrative}, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "hello"})
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, stream.EventError, events[0].Type)
	assert.Equal(t, "transient", events[0].ErrCode)
	assert.True(t, events[0].Recoverable)
}

func TestRunTurn_CorruptStateIsFatal(t *testing.T) {
	store := newFakeStore()
	store.states["proj_1"] = state.Project{HeroImageID: "ghost"}
	e := newTestEngine(t, store, Config{}, &stubAgent{id: subagent.Narrative}, compositorStub())

	events, err := runTurn(t, e, "proj_1", subagent.TurnInput{Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStateCorrupt)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventError, last.Type)
	assert.Equal(t, "fatal", last.ErrCode)
	assert.False(t, last.Recoverable)
}

func TestRunTurn_EmptyProjectID(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, Config{}, &stubAgent{id: subagent.Narrative}, compositorStub())

	events, err := runTurn(t, e, "", subagent.TurnInput{Text: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	require.Len(t, events, 1)
	assert.Equal(t, stream.EventError, events[0].Type)
	assert.Equal(t, "validation", events[0].ErrCode)
	assert.False(t, events[0].Recoverable)
}

func TestNewEngine_Validation(t *testing.T) {
	comp := compositorStub()
	narrative := &stubAgent{id: subagent.Narrative}

	_, err := NewEngine(Config{Agents: []subagent.Subagent{comp}})
	assert.ErrorContains(t, err, "store")

	_, err = NewEngine(Config{Store: newFakeStore()})
	assert.ErrorContains(t, err, "at least one agent")

	_, err = NewEngine(Config{Store: newFakeStore(), Agents: []subagent.Subagent{narrative}})
	assert.ErrorContains(t, err, "compositor")

	_, err = NewEngine(Config{Store: newFakeStore(), Agents: []subagent.Subagent{comp, compositorStub()}})
	assert.ErrorContains(t, err, "duplicate")

	e, err := NewEngine(Config{Store: newFakeStore(), Agents: []subagent.Subagent{narrative, comp}})
	require.NoError(t, err)
	assert.NotNil(t, e.Journal())
}

func TestSplitReply(t *testing.T) {
	assert.Nil(t, splitReply("", 10))

	short := "all in one piece"
	assert.Equal(t, []string{short}, splitReply(short, 120))

	long := "The rebuilt chimney pairs red clay brick with a new stainless liner, and the tuckpointing along the crown matches the original 1920s mortar lines."
	chunks := splitReply(long, 40)
	require.Greater(t, len(chunks), 1)
	var joined string
	for _, c := range chunks {
		joined += c
		assert.LessOrEqual(t, len([]rune(c)), 41, "chunk stays near the target size")
	}
	assert.Equal(t, long, joined, "chunks must concatenate back to the reply")

	// Words longer than the budget get a hard cut rather than a stall.
	chunks = splitReply("antidisestablishmentarianism", 10)
	joined = ""
	for _, c := range chunks {
		joined += c
	}
	assert.Equal(t, "antidisestablishmentarianism", joined)
	require.Greater(t, len(chunks), 1)
}
