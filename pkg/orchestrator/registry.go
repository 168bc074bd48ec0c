package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// Role identifies which provider slot an endpoint serves.
type Role string

const (
	RoleSTT Role = "stt"
	RoleLLM Role = "llm"
	RoleTTS Role = "tts"
)

// ProviderEndpoint is one concrete, health-tracked backend the registry can
// route a turn to. Wraps an existing STTProvider/LLMProvider/TTSProvider —
// the registry never re-implements the provider's own request logic, it
// only decides which one gets picked and records whether it's healthy.
type ProviderEndpoint struct {
	Name     string
	Role     Role
	Priority int  // lower runs first when multiple endpoints are healthy
	Local    bool // self-hosted endpoint; see prefer_local/always_try_local

	STT STTProvider
	LLM LLMProvider
	TTS TTSProvider

	mu           sync.Mutex
	healthy      bool
	failStreak   int
	lastFailure  time.Time
	lastChecked  time.Time
	unhealthyTTL time.Duration
}

func newEndpoint(name string, role Role, local bool, unhealthyTTL time.Duration) *ProviderEndpoint {
	return &ProviderEndpoint{
		Name:         name,
		Role:         role,
		Local:        local,
		healthy:      true,
		unhealthyTTL: unhealthyTTL,
	}
}

// Healthy reports whether the endpoint currently accepts traffic, auto-
// recovering an unhealthy endpoint once unhealthyTTL has elapsed since its
// last failure (health_ttl from the spec's failover policy).
func (e *ProviderEndpoint) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthy && time.Since(e.lastFailure) > e.unhealthyTTL {
		e.healthy = true
		e.failStreak = 0
		metrics.ProviderUnhealthy.WithLabelValues(string(e.Role), e.Name).Set(0)
	}
	return e.healthy
}

// recordSuccess clears the endpoint's failure streak.
func (e *ProviderEndpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.failStreak = 0
}

// recordFailure increments the failure streak and, once it crosses
// unhealthyStreak, marks the endpoint unhealthy until unhealthyTTL elapses.
// ClientErrors (4xx) never count toward the streak — a bad request doesn't
// mean the provider is down — only TransientErrors (5xx/network) do.
func (e *ProviderEndpoint) recordFailure(err error, unhealthyStreak int) {
	if _, isClientErr := err.(*ClientError); isClientErr {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failStreak++
	e.lastFailure = time.Now()
	metrics.ProviderFailover.WithLabelValues(string(e.Role)).Inc()
	if e.failStreak >= unhealthyStreak {
		e.healthy = false
		metrics.ProviderUnhealthy.WithLabelValues(string(e.Role), e.Name).Set(1)
	}
}

// Registry holds the provider endpoints for every role (STT, LLM, TTS),
// grouped by role, and implements the
// selection + failover policy of the turn orchestrator's provider lookup:
// try endpoints in priority order, skip unhealthy ones, mark failures, and
// recover automatically after health_ttl.
//
// Grounded on the teacher's RWMutex-guarded field-access discipline
// (ConversationSession, Orchestrator) — reads take an RLock, the rare
// mutation (recordFailure/recordSuccess) takes the endpoint's own lock so
// the registry's selection loop never blocks on a single endpoint update.
type Registry struct {
	mu              sync.RWMutex
	endpoints       map[Role][]*ProviderEndpoint
	unhealthyStreak int
	unhealthyTTL    time.Duration
	logger          Logger

	// preferLocal sorts local endpoints ahead of remote ones (after any
	// hint match); alwaysTryLocal lets a local endpoint be selected even
	// while marked unhealthy, in its normal place in the candidate order —
	// whether or not a healthy remote endpoint ranks after it.
	preferLocal    bool
	alwaysTryLocal bool
}

// NewRegistry creates a registry. unhealthyStreak is the number of
// consecutive transient failures before an endpoint is marked unhealthy;
// unhealthyTTL is how long it stays excluded before being retried.
func NewRegistry(unhealthyStreak int, unhealthyTTL time.Duration, logger Logger) *Registry {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if unhealthyStreak <= 0 {
		unhealthyStreak = 3
	}
	if unhealthyTTL <= 0 {
		unhealthyTTL = 30 * time.Second
	}
	return &Registry{
		endpoints:       make(map[Role][]*ProviderEndpoint),
		unhealthyStreak: unhealthyStreak,
		unhealthyTTL:    unhealthyTTL,
		logger:          logger,
	}
}

// SetLocalityPolicy configures whether local endpoints are preferred over
// remote ones and whether a local endpoint may be tried even while marked
// unhealthy. Both default to false (no locality preference).
func (r *Registry) SetLocalityPolicy(preferLocal, alwaysTryLocal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferLocal = preferLocal
	r.alwaysTryLocal = alwaysTryLocal
}

// RegisterSTT adds an STT endpoint at the given priority (lower = tried first).
func (r *Registry) RegisterSTT(name string, provider STTProvider, priority int, local bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := newEndpoint(name, RoleSTT, local, r.unhealthyTTL)
	ep.STT = provider
	ep.Priority = priority
	r.insert(RoleSTT, ep)
}

// RegisterLLM adds an LLM endpoint at the given priority.
func (r *Registry) RegisterLLM(name string, provider LLMProvider, priority int, local bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := newEndpoint(name, RoleLLM, local, r.unhealthyTTL)
	ep.LLM = provider
	ep.Priority = priority
	r.insert(RoleLLM, ep)
}

// RegisterTTS adds a TTS endpoint at the given priority.
func (r *Registry) RegisterTTS(name string, provider TTSProvider, priority int, local bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := newEndpoint(name, RoleTTS, local, r.unhealthyTTL)
	ep.TTS = provider
	ep.Priority = priority
	r.insert(RoleTTS, ep)
}

func (r *Registry) insert(role Role, ep *ProviderEndpoint) {
	list := r.endpoints[role]
	i := 0
	for i < len(list) && list[i].Priority <= ep.Priority {
		i++
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = ep
	r.endpoints[role] = list
}

// candidateList orders one role's endpoints per the selection policy: a
// hint match goes first (if it's healthy, or if always_try_local applies to
// it), then the rest with locals sorted ahead of remotes when prefer_local
// is set. Priority order within each of those two groups is preserved,
// since r.endpoints is already priority-sorted by insert.
func (r *Registry) candidateList(role Role, hint string) []*ProviderEndpoint {
	list := r.endpoints[role]

	var hinted *ProviderEndpoint
	if hint != "" {
		for _, ep := range list {
			if ep.Name == hint {
				hinted = ep
				break
			}
		}
	}

	rest := make([]*ProviderEndpoint, 0, len(list))
	for _, ep := range list {
		if ep == hinted {
			continue
		}
		rest = append(rest, ep)
	}
	if r.preferLocal {
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].Local && !rest[j].Local })
	}

	ordered := make([]*ProviderEndpoint, 0, len(list))
	if hinted != nil {
		ordered = append(ordered, hinted)
	}
	return append(ordered, rest...)
}

func (r *Registry) usable(ep *ProviderEndpoint) bool {
	if ep.Healthy() {
		return true
	}
	return r.alwaysTryLocal && ep.Local
}

// Select returns the best candidate endpoint for a role per the hint-first,
// locality-aware selection policy, or ErrNoProvider if none qualify.
func (r *Registry) Select(role Role, hint string) (*ProviderEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ep := range r.candidateList(role, hint) {
		if r.usable(ep) {
			return ep, nil
		}
	}
	return nil, ErrNoProvider
}

// Transcribe selects an STT endpoint (honoring hint) and fails over to the
// next candidate on a transient error, up to len(endpoints) attempts.
func (r *Registry) Transcribe(ctx context.Context, audio []byte, lang Language, hint string) (string, string, error) {
	r.mu.RLock()
	endpoints := r.candidateList(RoleSTT, hint)
	r.mu.RUnlock()

	var lastErr error
	for _, ep := range endpoints {
		if !r.usable(ep) {
			continue
		}
		text, err := ep.STT.Transcribe(ctx, audio, lang)
		if err == nil {
			ep.recordSuccess()
			return text, ep.Name, nil
		}
		r.logger.Warn("stt endpoint failed", "endpoint", ep.Name, "error", err)
		ep.recordFailure(err, r.unhealthyStreak)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	return "", "", lastErr
}

// Complete selects an LLM endpoint (honoring hint) and fails over on
// transient error.
func (r *Registry) Complete(ctx context.Context, messages []Message, hint string) (string, string, error) {
	r.mu.RLock()
	endpoints := r.candidateList(RoleLLM, hint)
	r.mu.RUnlock()

	var lastErr error
	for _, ep := range endpoints {
		if !r.usable(ep) {
			continue
		}
		text, err := ep.LLM.Complete(ctx, messages)
		if err == nil {
			ep.recordSuccess()
			return text, ep.Name, nil
		}
		r.logger.Warn("llm endpoint failed", "endpoint", ep.Name, "error", err)
		ep.recordFailure(err, r.unhealthyStreak)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	return "", "", lastErr
}

// StreamSynthesize selects a TTS endpoint and fails over on transient error.
// Because streaming may already have emitted chunks via onChunk before
// failing, failover only happens if the failure occurs before the first
// chunk is delivered — once audio has started playing, a mid-stream error
// is surfaced rather than silently retried on a different voice.
func (r *Registry) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error, hint string) (string, error) {
	r.mu.RLock()
	endpoints := r.candidateList(RoleTTS, hint)
	r.mu.RUnlock()

	var lastErr error
	for _, ep := range endpoints {
		if !r.usable(ep) {
			continue
		}
		firstChunkSent := false
		wrapped := func(chunk []byte) error {
			firstChunkSent = true
			return onChunk(chunk)
		}
		err := ep.TTS.StreamSynthesize(ctx, text, voice, lang, wrapped)
		if err == nil {
			ep.recordSuccess()
			return ep.Name, nil
		}
		if firstChunkSent {
			return ep.Name, err
		}
		r.logger.Warn("tts endpoint failed before first chunk", "endpoint", ep.Name, "error", err)
		ep.recordFailure(err, r.unhealthyStreak)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoProvider
	}
	return "", lastErr
}

// Snapshot returns a read-only view of endpoint health per role, for status
// reporting / metrics export.
func (r *Registry) Snapshot() map[Role][]EndpointStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role][]EndpointStatus, len(r.endpoints))
	for role, list := range r.endpoints {
		statuses := make([]EndpointStatus, 0, len(list))
		for _, ep := range list {
			statuses = append(statuses, EndpointStatus{
				Name:     ep.Name,
				Priority: ep.Priority,
				Healthy:  ep.Healthy(),
			})
		}
		out[role] = statuses
	}
	return out
}

// EndpointStatus is a point-in-time health snapshot of one endpoint.
type EndpointStatus struct {
	Name     string
	Priority int
	Healthy  bool
}
