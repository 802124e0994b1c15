package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/breaker"
	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/metrics"
	"github.com/knearme/showcase/internal/retry"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
	"github.com/knearme/showcase/internal/subagent"
)

// replyChunkRunes is the target size of one message.delta frame.
const replyChunkRunes = 120

// historyTurns caps how much prior conversation each subagent sees.
const historyTurns = 12

// Store is the persistence the engine depends on. The SQLite store
// implements it; tests substitute fakes.
type Store interface {
	// LoadProjectState returns the current draft, or a zero-valued
	// project when none has been saved yet.
	LoadProjectState(ctx context.Context, projectID string) (state.Project, error)

	// SaveProjectState replaces the stored draft.
	SaveProjectState(ctx context.Context, projectID string, p state.Project) error

	// LoadImages returns every image uploaded for the project, in
	// display order.
	LoadImages(ctx context.Context, projectID string) ([]state.Image, error)

	// SaveTurn appends one conversation entry and returns the total
	// number of turns recorded for the project.
	SaveTurn(ctx context.Context, projectID, role, content string) (int, error)

	// RecentTurns returns up to limit of the latest conversation
	// entries, oldest first.
	RecentTurns(ctx context.Context, projectID string, limit int) ([]state.TurnEntry, error)

	// AppendCheckpoint records an immutable post-turn snapshot.
	AppendCheckpoint(ctx context.Context, cp state.Checkpoint) error
}

// Config assembles an Engine. Store and Agents (including a compositor)
// are required; everything else defaults.
type Config struct {
	Store    Store
	Agents   []subagent.Subagent
	Router   *Router
	Breakers *breaker.Registry
	Journal  *state.Journal
	Metrics  *metrics.Metrics
	Retry    retry.Config

	// TurnTimeout bounds a whole turn including retries. Zero leaves
	// the caller's context in charge.
	TurnTimeout time.Duration

	Logger zerolog.Logger
}

// Engine runs conversation turns: it routes each turn to one or more
// subagents, merges their deltas into project state under a per-project
// lock, checkpoints the result, and streams the reply.
type Engine struct {
	store    Store
	agents   map[subagent.Identity]subagent.Subagent
	fallback subagent.Subagent
	router   *Router
	breakers *breaker.Registry
	journal  *state.Journal
	metrics  *metrics.Metrics
	retry    retry.Config
	timeout  time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}

	agents := make(map[subagent.Identity]subagent.Subagent, len(cfg.Agents))
	var fallback subagent.Subagent
	for _, a := range cfg.Agents {
		id := a.Identity()
		if _, dup := agents[id]; dup {
			return nil, fmt.Errorf("duplicate agent %q", id)
		}
		agents[id] = a
		if id == subagent.Compositor {
			fallback = a
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("a compositor agent is required as the fallback")
	}

	logger := cfg.Logger.With().Str("component", "engine").Logger()
	if cfg.Router == nil {
		cfg.Router = NewRouter(nil, cfg.Logger)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	if cfg.Journal == nil {
		cfg.Journal = state.NewJournal(32)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	return &Engine{
		store:    cfg.Store,
		agents:   agents,
		fallback: fallback,
		router:   cfg.Router,
		breakers: cfg.Breakers,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		retry:    cfg.Retry,
		timeout:  cfg.TurnTimeout,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Journal exposes the in-memory checkpoint cache.
func (e *Engine) Journal() *state.Journal { return e.journal }

// projectLock returns the mutex serializing turns for one project.
func (e *Engine) projectLock(projectID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[projectID] = l
	}
	return l
}

// RunTurn executes one conversation turn end to end. Turns for the same
// project run strictly one at a time; the emitter always receives a
// terminal event, even on failure.
func (e *Engine) RunTurn(ctx context.Context, projectID string, in subagent.TurnInput, em *stream.Emitter) error {
	if projectID == "" {
		err := fmt.Errorf("%w: project id is required", apperrors.ErrInvalidInput)
		em.EnsureTerminal(err)
		return err
	}

	lock := e.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	mode, err := e.runTurn(ctx, projectID, in, em)
	status := "ok"
	if err != nil {
		status = "error"
		e.metrics.RecordError("orchestrator", errClass(err))
	}
	e.metrics.RecordTurn(mode, status)
	e.metrics.ObserveTurnDuration(mode, time.Since(start).Seconds())
	em.EnsureTerminal(err)
	return err
}

func (e *Engine) runTurn(ctx context.Context, projectID string, in subagent.TurnInput, em *stream.Emitter) (string, error) {
	mode := "sequential"
	log := e.logger.With().Str("project_id", projectID).Logger()

	cur, err := e.store.LoadProjectState(ctx, projectID)
	if err != nil {
		return mode, fmt.Errorf("loading project state: %w", err)
	}
	if err := cur.Validate(); err != nil {
		return mode, fmt.Errorf("%w: stored draft for %s: %v", apperrors.ErrStateCorrupt, projectID, err)
	}

	// Fold in uploads the image pipeline saved since the last turn,
	// plus anything attached to this turn, before any agent looks at
	// the draft.
	uploaded, err := e.store.LoadImages(ctx, projectID)
	if err != nil {
		return mode, fmt.Errorf("loading images: %w", err)
	}
	if len(uploaded) > 0 {
		// The registry's positions are canonical: a reorder made
		// between turns has to survive the next save.
		order := make([]string, 0, len(uploaded))
		for _, img := range uploaded {
			order = append(order, img.ID)
		}
		cur = state.Merge(cur, state.Delta{Images: uploaded, ImageOrder: order})
	}
	if len(in.Images) > 0 {
		cur = state.Merge(cur, state.Delta{Images: in.Images})
	}

	if history, err := e.store.RecentTurns(ctx, projectID, historyTurns); err != nil {
		log.Warn().Err(err).Msg("loading turn history failed")
	} else {
		in.History = history
	}

	turnCount := 0
	if n, err := e.store.SaveTurn(ctx, projectID, "user", in.Text); err != nil {
		log.Warn().Err(err).Msg("recording user turn failed")
	} else {
		turnCount = n
	}

	hint := state.HintFor(cur)
	decision := e.router.Route(hint, in)
	if decision.Parallel {
		mode = "parallel"
	}

	msgID, err := em.StartMessage("assistant")
	if err != nil {
		return mode, err
	}

	outcomes := e.dispatch(ctx, decision, hint, projectID, cur, in, em, msgID, log)

	genFailed := false
	needFallback := false
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		em.AddDiagnostic(string(o.id), degradeMessage(o.err))
		if o.id == subagent.Generation {
			genFailed = true
		} else {
			needFallback = true
		}
	}

	// The compositor stands in for any failed specialist except the
	// copywriter, which fails closed rather than ship invented copy.
	if needFallback {
		res, ferr := e.fallback.Run(ctx, cur, in)
		if ferr != nil {
			log.Error().Err(ferr).Msg("fallback compositor failed")
		} else {
			e.metrics.RecordSubagent(string(subagent.Compositor), "fallback")
			outcomes = append(outcomes, outcome{id: subagent.Compositor, res: res})
		}
	}

	merged := cur
	for _, id := range mergeOrder() {
		for _, o := range outcomes {
			if o.id != id || o.err != nil {
				continue
			}
			merged = state.Merge(merged, o.res.Delta)
		}
	}
	if err := merged.Validate(); err != nil {
		return mode, fmt.Errorf("%w: merged draft for %s: %v", apperrors.ErrStateCorrupt, projectID, err)
	}

	if err := e.store.SaveProjectState(ctx, projectID, merged); err != nil {
		return mode, fmt.Errorf("saving project state: %w", err)
	}

	cp := state.NewCheckpoint(projectID, merged, turnCount)
	if err := e.store.AppendCheckpoint(ctx, cp); err != nil {
		log.Warn().Err(err).Str("checkpoint_id", cp.ID).Msg("appending checkpoint failed")
	} else {
		e.journal.Append(cp)
	}

	reply := pickReply(outcomes)
	if genFailed {
		if reply != "" {
			reply += "\n\n"
		}
		reply += "I hit a snag drafting your listing copy just now. Nothing was lost; ask me to draft it again in a moment."
	}
	if reply == "" {
		reply = "Something went wrong on my end. Your project is unchanged, so please try that again."
	}

	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		em.AddUsage(o.res.Usage)
		for _, s := range o.res.Citations {
			key := s.ID + "|" + s.URL
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := em.EmitSource(msgID, s); err != nil {
				return mode, err
			}
		}
	}

	for _, chunk := range splitReply(reply, replyChunkRunes) {
		if err := em.TextDelta(msgID, chunk); err != nil {
			return mode, err
		}
	}

	if _, err := e.store.SaveTurn(ctx, projectID, "assistant", reply); err != nil {
		log.Warn().Err(err).Msg("recording assistant turn failed")
	}

	if err := em.EndMessage(msgID); err != nil {
		return mode, err
	}
	if err := em.Done(stream.FinishStop); err != nil {
		return mode, err
	}

	log.Info().
		Str("phase", string(state.PhaseFor(merged))).
		Str("route", decision.Reason).
		Int("agents", len(decision.Agents)).
		Int("turn", turnCount).
		Msg("turn completed")
	return mode, nil
}

// outcome is one subagent's contribution to a turn.
type outcome struct {
	id  subagent.Identity
	res subagent.Result
	err error
}

// dispatch fans the turn out to the routed agents. Parallel dispatch
// waits for every agent before returning; one failure never aborts the
// others.
func (e *Engine) dispatch(ctx context.Context, decision Decision, hint state.Hint, projectID string, cur state.Project, in subagent.TurnInput, em *stream.Emitter, msgID string, log zerolog.Logger) []outcome {
	reqs := make([]subagent.DelegationRequest, 0, len(decision.Agents))
	for _, id := range decision.Agents {
		reqs = append(reqs, subagent.DelegationRequest{
			To:        id,
			Reason:    decision.Reason,
			ProjectID: projectID,
			Phase:     hint.Phase,
		})
	}

	if !decision.Parallel {
		outcomes := make([]outcome, 0, len(reqs))
		for _, req := range reqs {
			outcomes = append(outcomes, e.callAgent(ctx, req, cur, in, em, msgID, log))
		}
		return outcomes
	}

	results := make(chan outcome, len(reqs))
	for _, req := range reqs {
		go func(req subagent.DelegationRequest) {
			results <- e.callAgent(ctx, req, cur, in, em, msgID, log)
		}(req)
	}
	outcomes := make([]outcome, 0, len(reqs))
	for range reqs {
		outcomes = append(outcomes, <-results)
	}
	return outcomes
}

// callAgent runs one subagent behind its circuit breaker with retries.
// Each agent gets its own tool observer so a retried attempt can close
// its dangling calls without touching a sibling's.
func (e *Engine) callAgent(ctx context.Context, req subagent.DelegationRequest, cur state.Project, in subagent.TurnInput, em *stream.Emitter, msgID string, log zerolog.Logger) outcome {
	id := req.To
	key := string(id)

	agent, ok := e.agents[id]
	if !ok {
		return outcome{id: id, err: fmt.Errorf("%w: no %s agent registered", apperrors.ErrAgentUnavailable, id)}
	}

	if !e.breakers.Allow(key) {
		e.metrics.RecordSubagent(key, "short_circuit")
		log.Warn().Str("subagent", key).Str("reason", req.Reason).Msg("circuit open, short-circuiting")
		return outcome{id: id, err: fmt.Errorf("%w: %s circuit open", apperrors.ErrAgentUnavailable, id)}
	}

	obs := newTurnObserver(em, msgID, e.metrics, log)
	in.Observer = obs

	log.Debug().
		Str("subagent", key).
		Str("reason", req.Reason).
		Str("phase", string(req.Phase)).
		Msg("delegating turn")

	cfg := e.retry
	cfg.OnRetry = func(attempt int, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Str("subagent", key).Msg("retrying subagent")
		obs.abandonOpen("abandoned: " + err.Error())
	}

	start := time.Now()
	var res subagent.Result
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		var runErr error
		res, runErr = agent.Run(ctx, cur, in)
		return runErr
	})
	e.metrics.ObserveSubagentDuration(key, time.Since(start).Seconds())

	if err != nil {
		obs.abandonOpen("abandoned: " + err.Error())
		e.breakers.RecordFailure(key)
		e.metrics.RecordSubagent(key, "error")
		e.metrics.RecordError("subagent", errClass(err))
		log.Error().Err(err).Str("subagent", key).Msg("subagent failed")
		return outcome{id: id, err: err}
	}

	e.breakers.RecordSuccess(key)
	e.metrics.RecordSubagent(key, "ok")
	log.Debug().
		Str("subagent", key).
		Float64("confidence", res.Confidence).
		Int("tool_calls", len(res.Tools)).
		Msg("subagent completed")
	return outcome{id: id, res: res}
}

// mergeOrder is the fan-in order: the compositor's conservative delta
// first, then the specialists, so a specialist's field wins conflicts.
func mergeOrder() []subagent.Identity {
	order := make([]subagent.Identity, 0, len(subagent.Precedence)+1)
	order = append(order, subagent.Compositor)
	return append(order, subagent.Precedence...)
}

// pickReply selects the user-visible reply: the highest-confidence
// successful result, ties broken by precedence order.
func pickReply(outcomes []outcome) string {
	best := ""
	bestConf := -1.0
	for _, id := range subagent.Precedence {
		for _, o := range outcomes {
			if o.id != id || o.err != nil || o.res.Message == "" {
				continue
			}
			if o.res.Confidence > bestConf {
				best = o.res.Message
				bestConf = o.res.Confidence
			}
		}
	}
	if best == "" {
		for _, o := range outcomes {
			if o.id == subagent.Compositor && o.err == nil && o.res.Message != "" {
				return o.res.Message
			}
		}
	}
	return best
}

// degradeMessage renders a failure for the done event's diagnostics.
func degradeMessage(err error) string {
	if apperrors.IsDelegation(err) {
		return "temporarily unavailable"
	}
	return err.Error()
}

// errClass buckets an error for metrics labels.
func errClass(err error) string {
	switch {
	case apperrors.IsFatal(err):
		return "fatal"
	case apperrors.IsValidation(err):
		return "validation"
	case apperrors.IsDelegation(err):
		return "delegation"
	case apperrors.IsRetryable(err):
		return "transient"
	default:
		return "internal"
	}
}

// splitReply breaks the reply into delta-sized chunks at word
// boundaries. Chunks concatenate back to the exact reply.
func splitReply(s string, maxRunes int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(s) > maxRunes {
		i := runeIndex(s, maxRunes)
		cut := strings.LastIndexByte(s[:i], ' ')
		if cut <= 0 {
			cut = i
		} else {
			cut++
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

// runeIndex returns the byte offset of the nth rune in s.
func runeIndex(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

// turnObserver bridges a subagent's tool loop onto the wire protocol.
// One observer per agent per attempt scope: abandonOpen closes only the
// calls this agent opened.
type turnObserver struct {
	em        *stream.Emitter
	messageID string
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu   sync.Mutex
	open map[string]string
}

func newTurnObserver(em *stream.Emitter, messageID string, m *metrics.Metrics, logger zerolog.Logger) *turnObserver {
	return &turnObserver{
		em:        em,
		messageID: messageID,
		metrics:   m,
		logger:    logger,
		open:      make(map[string]string),
	}
}

func (o *turnObserver) ToolCallStarted(callID, name string, input json.RawMessage) {
	if input == nil {
		input = json.RawMessage("{}")
	}
	o.mu.Lock()
	o.open[callID] = name
	o.mu.Unlock()
	if err := o.em.StartToolCall(o.messageID, callID, name, input); err != nil {
		o.logger.Warn().Err(err).Str("tool", name).Msg("emitting tool call failed")
	}
}

func (o *turnObserver) ToolCallFinished(callID, name, output string, isError bool) {
	o.mu.Lock()
	delete(o.open, callID)
	o.mu.Unlock()

	result := "ok"
	if isError {
		result = "error"
	}
	o.metrics.RecordToolCall(name, result)
	if err := o.em.ToolResult(callID, output, isError); err != nil {
		o.logger.Warn().Err(err).Str("tool", name).Msg("emitting tool result failed")
	}
}

// abandonOpen closes any call left dangling by a failed attempt so the
// client never waits on a result that will not arrive.
func (o *turnObserver) abandonOpen(reason string) {
	o.mu.Lock()
	open := o.open
	o.open = make(map[string]string)
	o.mu.Unlock()

	for callID, name := range open {
		o.metrics.RecordToolCall(name, "abandoned")
		if err := o.em.ToolResult(callID, reason, true); err != nil {
			o.logger.Warn().Err(err).Str("tool", name).Msg("closing abandoned tool call failed")
		}
	}
}
