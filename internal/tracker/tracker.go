// Package tracker reconciles displayed scene-activation status against
// observed device state. The device cloud has no "is this scene active"
// signal, so status is inferred from match scores with hysteresis: a locally
// triggered activation shows Activating until the matcher confirms it or a
// timeout fails open to Active.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/scene"
)

// Status is the user-facing activation status of a scene
type Status int

const (
	StatusIdle Status = iota
	StatusActivating
	StatusActive
)

// String returns a human-readable name for the status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActivating:
		return "activating"
	case StatusActive:
		return "active"
	default:
		return "unknown"
	}
}

// State is the tracked activation state of one scene
type State struct {
	SceneUUID string
	Status    Status
	StartedAt time.Time // set while Activating
	Score     float64   // last matcher score
}

// SnapshotProvider supplies the latest directory snapshot for a poll tick
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context) (*lifx.Snapshot, error)
}

// TransitionFunc is notified after a scene changes status. Called outside
// the tracker lock.
type TransitionFunc func(sceneUUID string, from, to Status)

// Config holds tracker settings
type Config struct {
	PollInterval      time.Duration
	ActivationTimeout time.Duration

	// AllowOverlapping keeps several scenes showing Active at once when they
	// all score above threshold. When false (the default policy) detecting
	// any active scene clears every other scene's activation state.
	AllowOverlapping bool
}

// Tracker owns all activation state for the process. Every mutation goes
// through a single mutex so the poll loop and user-triggered activations
// cannot race; readers get copies.
type Tracker struct {
	matcher  *scene.Matcher
	provider SnapshotProvider
	cfg      Config

	mu         sync.Mutex
	states     map[string]*State
	activating string // scene currently Activating; at most one per process

	onTransition TransitionFunc
	now          func() time.Time // overridable in tests
}

// New creates a tracker
func New(matcher *scene.Matcher, provider SnapshotProvider, cfg Config) *Tracker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ActivationTimeout == 0 {
		cfg.ActivationTimeout = 15 * time.Second
	}
	return &Tracker{
		matcher:  matcher,
		provider: provider,
		cfg:      cfg,
		states:   make(map[string]*State),
		now:      time.Now,
	}
}

// OnTransition registers the status-change callback. Must be called before Run.
func (t *Tracker) OnTransition(fn TransitionFunc) {
	t.onTransition = fn
}

// Run starts the poll loop. It returns when ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	log.Info().
		Dur("poll_interval", t.cfg.PollInterval).
		Dur("activation_timeout", t.cfg.ActivationTimeout).
		Bool("allow_overlapping", t.cfg.AllowOverlapping).
		Msg("Activation tracker started")

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Activation tracker stopping")
			return nil
		case <-ticker.C:
			snap, err := t.provider.FetchSnapshot(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to refresh snapshot, skipping poll tick")
				continue
			}
			t.Evaluate(snap)
		}
	}
}

// MarkActivating records a locally triggered activation. Call it only after
// the device cloud has accepted the activation command; a rejected command
// must never enter Activating.
func (t *Tracker) MarkActivating(sceneUUID string) {
	t.mu.Lock()

	var transitions []transition
	if t.activating != "" && t.activating != sceneUUID {
		// Only one scene may be Activating at a time; the newer request wins
		transitions = append(transitions, t.setStatus(t.activating, StatusIdle))
	}
	t.activating = sceneUUID

	st := t.state(sceneUUID)
	transitions = append(transitions, transition{sceneUUID, st.Status, StatusActivating})
	st.Status = StatusActivating
	st.StartedAt = t.now()

	t.mu.Unlock()
	t.notify(transitions)
}

// Deactivate clears a scene back to Idle (scene turned off elsewhere, or an
// explicit user deactivation).
func (t *Tracker) Deactivate(sceneUUID string) {
	t.mu.Lock()
	var transitions []transition
	if t.activating == sceneUUID {
		t.activating = ""
	}
	if st, ok := t.states[sceneUUID]; ok && st.Status != StatusIdle {
		transitions = append(transitions, t.setStatus(sceneUUID, StatusIdle))
	}
	t.mu.Unlock()
	t.notify(transitions)
}

// Status returns a copy of the tracked state for one scene
func (t *Tracker) Status(sceneUUID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[sceneUUID]; ok {
		return *st
	}
	return State{SceneUUID: sceneUUID, Status: StatusIdle}
}

// States returns a copy of all tracked states, for rendering without holding
// the lock across I/O.
func (t *Tracker) States() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for uuid, st := range t.states {
		out[uuid] = *st
	}
	return out
}

// Evaluate applies one poll tick: scores every scene in the snapshot and
// performs the resulting transitions under the tracker lock.
func (t *Tracker) Evaluate(snap *lifx.Snapshot) {
	scores := make(map[string]float64, len(snap.Scenes))
	for i := range snap.Scenes {
		sc := &snap.Scenes[i]
		scores[sc.UUID] = t.matcher.MatchScore(sc, snap)
	}
	threshold := t.matcher.Threshold()

	t.mu.Lock()
	var transitions []transition

	for uuid, score := range scores {
		if st, ok := t.states[uuid]; ok {
			st.Score = score
		}
	}

	// The locally triggered activation gets first say
	var settled string // scene promoted out of Activating this tick
	if t.activating != "" {
		uuid := t.activating
		score, inDirectory := scores[uuid]
		st := t.state(uuid)
		switch {
		case inDirectory && score >= threshold:
			transitions = append(transitions, t.promote(uuid)...)
			settled = uuid
		case t.now().Sub(st.StartedAt) > t.cfg.ActivationTimeout:
			if inDirectory {
				// Fail open: assume the cloud is slow rather than wrong
				log.Warn().Str("scene", uuid).Float64("score", score).
					Msg("Activation timed out below threshold, assuming active")
				transitions = append(transitions, t.promote(uuid)...)
				settled = uuid
			} else {
				// Scene left the directory while activating
				transitions = append(transitions, t.setStatus(uuid, StatusIdle))
				t.activating = ""
			}
		}
	}

	// Externally triggered activations and deactivations, in directory order.
	// A scene that just settled via fail-open keeps Active this tick even
	// though its score is still below threshold.
	for i := range snap.Scenes {
		uuid := snap.Scenes[i].UUID
		score := scores[uuid]
		st, tracked := t.states[uuid]
		switch {
		case score >= threshold && uuid != t.activating:
			if !tracked || st.Status != StatusActive {
				transitions = append(transitions, t.promote(uuid)...)
			}
		case score < threshold && uuid != settled && tracked && st.Status == StatusActive:
			transitions = append(transitions, t.setStatus(uuid, StatusIdle))
		}
	}

	t.mu.Unlock()
	t.notify(transitions)
}

type transition struct {
	uuid     string
	from, to Status
}

// state returns the tracked state for a scene, creating it lazily
func (t *Tracker) state(uuid string) *State {
	st, ok := t.states[uuid]
	if !ok {
		st = &State{SceneUUID: uuid}
		t.states[uuid] = st
	}
	return st
}

// setStatus records a single status change; caller holds the lock
func (t *Tracker) setStatus(uuid string, to Status) transition {
	st := t.state(uuid)
	tr := transition{uuid, st.Status, to}
	st.Status = to
	if to != StatusActivating {
		st.StartedAt = time.Time{}
	}
	return tr
}

// promote moves a scene to Active, applying the overlap policy; caller holds
// the lock.
func (t *Tracker) promote(uuid string) []transition {
	var transitions []transition

	if !t.cfg.AllowOverlapping {
		// Clear every other scene's activation state, but leave an in-flight
		// Activating scene to settle on its own (hysteresis).
		for other, st := range t.states {
			if other != uuid && other != t.activating && st.Status != StatusIdle {
				transitions = append(transitions, t.setStatus(other, StatusIdle))
			}
		}
	}
	if t.activating == uuid {
		t.activating = ""
	}

	st := t.state(uuid)
	if st.Status != StatusActive {
		transitions = append(transitions, t.setStatus(uuid, StatusActive))
	}
	return transitions
}

func (t *Tracker) notify(transitions []transition) {
	if t.onTransition == nil {
		return
	}
	for _, tr := range transitions {
		if tr.from != tr.to {
			t.onTransition(tr.uuid, tr.from, tr.to)
		}
	}
}
