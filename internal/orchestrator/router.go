// Package orchestrator routes user turns to subagents, runs them with
// circuit breaking and retries, merges their deltas into project state,
// and streams the turn over the wire protocol.
package orchestrator

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/subagent"
)

// Rule is one routing rule. Empty fields match anything; the first rule
// whose populated fields all match wins.
type Rule struct {
	// Phase matches the draft's current phase hint.
	Phase state.Phase `yaml:"phase,omitempty"`

	// RequiresImages, when set, matches turns that do (true) or do not
	// (false) carry image uploads.
	RequiresImages *bool `yaml:"requires_images,omitempty"`

	// Keyword matches when the turn text contains a word starting with
	// it, case-insensitive ("publish" matches "published").
	Keyword string `yaml:"keyword,omitempty"`

	// Agents is dispatched when the rule matches. More than one agent
	// with Parallel set fans out concurrently.
	Agents   []subagent.Identity `yaml:"agents"`
	Parallel bool                `yaml:"parallel,omitempty"`
}

func (r Rule) matches(hint state.Hint, in subagent.TurnInput) bool {
	if r.Phase != "" && r.Phase != hint.Phase {
		return false
	}
	if r.RequiresImages != nil && *r.RequiresImages != (len(in.Images) > 0) {
		return false
	}
	if r.Keyword != "" && !containsWordPrefix(in.Text, r.Keyword) {
		return false
	}
	return true
}

// describe renders the rule for logs and delegation reasons.
func (r Rule) describe() string {
	var parts []string
	if r.Keyword != "" {
		parts = append(parts, "keyword:"+r.Keyword)
	}
	if r.Phase != "" {
		parts = append(parts, "phase:"+string(r.Phase))
	}
	if r.RequiresImages != nil {
		parts = append(parts, fmt.Sprintf("images:%t", *r.RequiresImages))
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, ",")
}

// Decision is the router's answer for one turn.
type Decision struct {
	Agents   []subagent.Identity
	Parallel bool
	Reason   string
}

// Router picks subagents for a turn from an ordered rule list. Phase
// hints are advisory: a rule may dispatch any agent in any phase.
type Router struct {
	rules  []Rule
	logger zerolog.Logger
}

// NewRouter builds a router over the given rules. An empty rule list
// falls back to DefaultRules.
func NewRouter(rules []Rule, logger zerolog.Logger) *Router {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Router{
		rules:  rules,
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// Route returns the first matching rule's dispatch decision. When no
// rule matches, the narrative agent handles the turn alone.
func (r *Router) Route(hint state.Hint, in subagent.TurnInput) Decision {
	for i, rule := range r.rules {
		if !rule.matches(hint, in) {
			continue
		}
		d := Decision{
			Agents:   rule.Agents,
			Parallel: rule.Parallel && len(rule.Agents) > 1,
			Reason:   rule.describe(),
		}
		r.logger.Debug().
			Int("rule", i).
			Str("reason", d.Reason).
			Str("phase", string(hint.Phase)).
			Interface("agents", d.Agents).
			Bool("parallel", d.Parallel).
			Msg("routed turn")
		return d
	}
	r.logger.Debug().Str("phase", string(hint.Phase)).Msg("no rule matched, defaulting to narrative")
	return Decision{Agents: []subagent.Identity{subagent.Narrative}, Reason: "fallback"}
}

// AddRule appends a rule, evaluated after the existing ones.
func (r *Router) AddRule(rule Rule) {
	r.rules = append(r.rules, rule)
}

// PrependRule inserts a rule ahead of the existing ones.
func (r *Router) PrependRule(rule Rule) {
	r.rules = append([]Rule{rule}, r.rules...)
}

// DefaultRules is the built-in routing table. Explicit asks outrank
// uploads, uploads outrank phase defaults.
func DefaultRules() []Rule {
	hasImages := true
	return []Rule{
		{Keyword: "publish", Agents: []subagent.Identity{subagent.Readiness}},
		{Keyword: "ready", Agents: []subagent.Identity{subagent.Readiness}},
		{Keyword: "draft", Agents: []subagent.Identity{subagent.Generation}},
		{Keyword: "write", Agents: []subagent.Identity{subagent.Generation}},
		{RequiresImages: &hasImages, Agents: []subagent.Identity{subagent.Narrative, subagent.Visual}, Parallel: true},
		{Phase: state.PhaseDrafting, Agents: []subagent.Identity{subagent.Narrative, subagent.Generation}, Parallel: true},
		{Phase: state.PhaseReview, Agents: []subagent.Identity{subagent.Readiness}},
		{Agents: []subagent.Identity{subagent.Narrative}},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a routing table from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses a YAML routing table, expanding env vars, and
// validates every rule.
func ParseRules(data []byte) ([]Rule, error) {
	var rf rulesFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &rf); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	for i, rule := range rf.Rules {
		if len(rule.Agents) == 0 {
			return nil, fmt.Errorf("rule %d: no agents", i)
		}
		for _, id := range rule.Agents {
			if !id.Valid() {
				return nil, fmt.Errorf("rule %d: unknown agent %q", i, id)
			}
		}
	}
	return rf.Rules, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding
// environment variable value. Missing vars expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}

// containsWordPrefix reports whether any word in text starts with the
// given keyword, ignoring case.
func containsWordPrefix(text, keyword string) bool {
	keyword = strings.ToLower(keyword)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if strings.HasPrefix(w, keyword) {
			return true
		}
	}
	return false
}
