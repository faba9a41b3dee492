// Package executor applies ordered batches of device operations. Every
// operation is resolved and authorized independently, and failures never
// abort the batch: the caller gets the full per-operation outcome list.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/viaclara/clarad/internal/authz"
	"github.com/viaclara/clarad/internal/ledger"
	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/perm"
	"github.com/viaclara/clarad/internal/selector"
)

// Kind identifies an operation. The set is closed: anything else coming
// from a client or the assistant is rejected before dispatch.
type Kind string

const (
	KindToggle        Kind = "toggle"
	KindSetState      Kind = "set_state"
	KindActivateScene Kind = "activate_scene"
)

// Valid reports whether k is a known operation kind
func (k Kind) Valid() bool {
	switch k {
	case KindToggle, KindSetState, KindActivateScene:
		return true
	}
	return false
}

// Params carries the operation-specific arguments. Nil fields mean
// "leave unchanged".
type Params struct {
	Power      string   `json:"power,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Color      string   `json:"color,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
}

// Action is one candidate operation of a batch
type Action struct {
	Selector string `json:"selector"`
	Kind     Kind   `json:"kind"`
	Params   Params `json:"params"`
}

// Result is the recorded outcome of a single operation
type Result struct {
	Description string `json:"description"`
	Success     bool   `json:"success"`
	Detail      string `json:"detail,omitempty"`
	Err         error  `json:"-"`
}

// BatchResult summarizes a batch. Success means at least one operation
// went through; partial failure is a reporting state, not an error.
type BatchResult struct {
	BatchID string   `json:"batch_id"`
	Results []Result `json:"results"`
	Success bool     `json:"success"`
}

// Succeeded returns the number of successful operations
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Partial reports whether the batch succeeded with at least one failure
func (b BatchResult) Partial() bool {
	ok := b.Succeeded()
	return ok > 0 && ok < len(b.Results)
}

// Dispatcher is the device-cloud surface the executor writes through
type Dispatcher interface {
	Toggle(ctx context.Context, selector string) ([]lifx.DeviceResult, error)
	SetState(ctx context.Context, selector string, st lifx.StateUpdate) ([]lifx.DeviceResult, error)
	ActivateScene(ctx context.Context, sceneUUID string, duration *float64) ([]lifx.DeviceResult, error)
}

// ActivationMarker is notified after the cloud accepts a scene activation
type ActivationMarker interface {
	MarkActivating(sceneUUID string)
}

// Recorder appends batch audit events. May be nil to disable auditing.
type Recorder interface {
	Append(eventType ledger.EventType, batchID string, userID int64, payload map[string]any) error
}

// Config contains executor settings
type Config struct {
	ZoneCommandDelay time.Duration // Pause between per-zone sub-commands
	DefaultDuration  float64       // Transition seconds when the action names none
}

// Executor runs authorized command batches against the device cloud
type Executor struct {
	gate       *authz.Gate
	dispatcher Dispatcher
	marker     ActivationMarker
	recorder   Recorder
	cfg        Config
}

// New creates a new Executor. marker and recorder may be nil.
func New(gate *authz.Gate, dispatcher Dispatcher, marker ActivationMarker, recorder Recorder, cfg Config) *Executor {
	if cfg.ZoneCommandDelay == 0 {
		cfg.ZoneCommandDelay = 300 * time.Millisecond
	}
	if cfg.DefaultDuration == 0 {
		cfg.DefaultDuration = 1.0
	}
	return &Executor{
		gate:       gate,
		dispatcher: dispatcher,
		marker:     marker,
		recorder:   recorder,
		cfg:        cfg,
	}
}

// Execute runs every action in order against the given directory snapshot.
// Each action is resolved, authorized, and dispatched independently; a
// denial or device failure is recorded and the batch moves on.
func (e *Executor) Execute(ctx context.Context, user *perm.User, snap *lifx.Snapshot, actions []Action) BatchResult {
	batch := BatchResult{BatchID: uuid.NewString()}

	e.record(ledger.EventBatchStarted, batch.BatchID, user.ID, map[string]any{
		"user":    user.Username,
		"actions": len(actions),
	})

	for idx, act := range actions {
		res := e.executeOne(ctx, user, snap, act)
		batch.Results = append(batch.Results, res)

		payload := map[string]any{
			"index":       idx,
			"description": res.Description,
			"success":     res.Success,
		}
		if res.Detail != "" {
			payload["detail"] = res.Detail
		}
		if res.Err != nil {
			payload["error"] = res.Err.Error()
		}
		e.record(ledger.EventOperationResult, batch.BatchID, user.ID, payload)
	}

	batch.Success = batch.Succeeded() > 0

	e.record(ledger.EventBatchCompleted, batch.BatchID, user.ID, map[string]any{
		"success":   batch.Success,
		"succeeded": batch.Succeeded(),
		"total":     len(batch.Results),
	})

	log.Info().
		Str("batch_id", batch.BatchID).
		Str("user", user.Username).
		Int("succeeded", batch.Succeeded()).
		Int("total", len(batch.Results)).
		Bool("success", batch.Success).
		Msg("Command batch completed")
	return batch
}

func (e *Executor) executeOne(ctx context.Context, user *perm.User, snap *lifx.Snapshot, act Action) Result {
	desc := fmt.Sprintf("%s %s", act.Kind, act.Selector)

	if !act.Kind.Valid() {
		return Result{
			Description: desc,
			Detail:      fmt.Sprintf("unknown operation kind %q", act.Kind),
			Err:         fmt.Errorf("%w: unknown operation kind %q", selector.ErrInvalid, act.Kind),
		}
	}

	sel, err := selector.Parse(act.Selector)
	if err != nil {
		return Result{Description: desc, Detail: "invalid selector", Err: err}
	}

	dec, err := e.gate.AuthorizeSelector(ctx, user, snap, sel)
	if err != nil {
		detail := "selector did not resolve"
		if errors.Is(err, authz.ErrPermissionDenied) {
			detail = "permission denied"
		}
		log.Warn().
			Str("user", user.Username).
			Str("selector", act.Selector).
			Err(err).
			Msg("Operation rejected")
		return Result{Description: desc, Detail: detail, Err: err}
	}
	if len(dec.Permitted) == 0 {
		return Result{
			Description: desc,
			Detail:      "no permitted devices matched",
			Err:         fmt.Errorf("%w: selector %q matched no permitted devices", selector.ErrInvalid, act.Selector),
		}
	}

	switch act.Kind {
	case KindActivateScene:
		return e.activateScene(ctx, desc, sel, act.Params)
	default:
		return e.dispatchTargets(ctx, desc, act, dec.Permitted)
	}
}

func (e *Executor) activateScene(ctx context.Context, desc string, sel selector.Selector, p Params) Result {
	duration := p.Duration
	if duration == nil {
		d := e.cfg.DefaultDuration
		duration = &d
	}

	results, err := e.dispatcher.ActivateScene(ctx, sel.Value, duration)
	if err != nil {
		return Result{Description: desc, Detail: dispatchDetail(err), Err: err}
	}

	ok := countOK(results)
	if ok == 0 {
		return Result{
			Description: desc,
			Detail:      fmt.Sprintf("0/%d devices accepted", len(results)),
			Err:         fmt.Errorf("%w: scene %s reached no devices", lifx.ErrDeviceUnreachable, sel.Value),
		}
	}

	// Only an accepted activation starts the settle window
	if e.marker != nil {
		e.marker.MarkActivating(sel.Value)
	}
	return Result{
		Description: desc,
		Success:     true,
		Detail:      fmt.Sprintf("%d/%d devices accepted", ok, len(results)),
	}
}

// dispatchTargets issues the operation per permitted target. A target
// carrying a zone range is split into per-zone sub-commands with a pause
// between them; firing zone writes back to back makes the strip drop some.
func (e *Executor) dispatchTargets(ctx context.Context, desc string, act Action, targets []selector.Target) Result {
	var okDevices, total int
	var lastErr error

	for _, tg := range targets {
		selectors := e.subSelectors(tg)
		var accepted bool
		for i, s := range selectors {
			if i > 0 {
				if err := sleepCtx(ctx, e.cfg.ZoneCommandDelay); err != nil {
					return Result{Description: desc, Detail: "batch cancelled", Err: err}
				}
			}
			results, err := e.dispatch(ctx, act, s)
			if err != nil {
				lastErr = err
				continue
			}
			if countOK(results) > 0 {
				accepted = true
			}
		}
		total++
		if accepted {
			okDevices++
		}
	}

	if okDevices == 0 {
		detail := fmt.Sprintf("0/%d devices reached", total)
		if lastErr != nil {
			detail = dispatchDetail(lastErr)
		}
		return Result{Description: desc, Detail: detail, Err: lastErr}
	}
	return Result{
		Description: desc,
		Success:     true,
		Detail:      fmt.Sprintf("%d/%d devices reached", okDevices, total),
	}
}

// subSelectors expands a zoned target into one wire selector per zone
func (e *Executor) subSelectors(tg selector.Target) []string {
	if tg.Zones == nil {
		return []string{tg.Selector()}
	}
	var out []string
	for z := tg.Zones.Start; z <= tg.Zones.End; z++ {
		out = append(out, fmt.Sprintf("id:%s|%d", tg.DeviceID, z))
	}
	return out
}

func (e *Executor) dispatch(ctx context.Context, act Action, wireSelector string) ([]lifx.DeviceResult, error) {
	switch act.Kind {
	case KindToggle:
		return e.dispatcher.Toggle(ctx, wireSelector)
	case KindSetState:
		st := lifx.StateUpdate{
			Power:      act.Params.Power,
			Color:      act.Params.Color,
			Brightness: act.Params.Brightness,
			Duration:   act.Params.Duration,
		}
		if st.Duration == nil {
			d := e.cfg.DefaultDuration
			st.Duration = &d
		}
		return e.dispatcher.SetState(ctx, wireSelector, st)
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", selector.ErrInvalid, act.Kind)
	}
}

func (e *Executor) record(eventType ledger.EventType, batchID string, userID int64, payload map[string]any) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Append(eventType, batchID, userID, payload); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to append ledger event")
	}
}

func dispatchDetail(err error) string {
	var rl *lifx.RateLimitError
	switch {
	case errors.As(err, &rl):
		return fmt.Sprintf("rate limited, retry after %s", rl.RetryAfter.Round(time.Second))
	case errors.Is(err, lifx.ErrRateLimited):
		return "rate limited"
	case errors.Is(err, lifx.ErrDeviceUnreachable):
		return "device cloud unreachable"
	default:
		return "device command failed"
	}
}

func countOK(results []lifx.DeviceResult) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
