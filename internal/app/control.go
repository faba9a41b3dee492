package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/viaclara/clarad/internal/assistant"
	"github.com/viaclara/clarad/internal/authz"
	"github.com/viaclara/clarad/internal/eventbus"
	"github.com/viaclara/clarad/internal/executor"
	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/perm"
	"github.com/viaclara/clarad/internal/tracker"
)

// ErrDirectoryUnavailable is returned when no device-cloud snapshot has
// been taken yet. Requests fail closed rather than guessing.
var ErrDirectoryUnavailable = errors.New("app: device directory unavailable")

// ErrAssistantDisabled is returned when a user without natural-language
// access asks for it
var ErrAssistantDisabled = errors.New("app: assistant access disabled for user")

// SceneStatus pairs a scene with its tracked activation state
type SceneStatus struct {
	Scene  lifx.Scene
	Status tracker.Status
	Score  float64
}

// AssistantOutcome couples the model's summary with the executed batch
type AssistantOutcome struct {
	Summary string
	Batch   executor.BatchResult
}

// ControlService is the request-facing surface: everything a transport
// layer would expose goes through here.
type ControlService struct {
	perms        *perm.Store
	gate         *authz.Gate
	directory    *Directory
	executor     *executor.Executor
	collaborator assistant.Collaborator
	tracker      *tracker.Tracker
	bus          *eventbus.Bus
}

// User looks up a user by username
func (c *ControlService) User(ctx context.Context, username string) (*perm.User, error) {
	return c.perms.GetUser(ctx, username)
}

// VisibleDevices returns the devices the user is permitted to see
func (c *ControlService) VisibleDevices(ctx context.Context, user *perm.User) ([]lifx.Device, error) {
	snap := c.directory.Current()
	if snap == nil {
		return nil, ErrDirectoryUnavailable
	}
	return c.gate.FilterVisible(ctx, user, snap.Devices)
}

// VisibleScenes returns the scenes the user may see, each annotated with
// its tracked activation status
func (c *ControlService) VisibleScenes(ctx context.Context, user *perm.User) ([]SceneStatus, error) {
	snap := c.directory.Current()
	if snap == nil {
		return nil, ErrDirectoryUnavailable
	}
	scenes, err := c.gate.FilterScenes(ctx, user, snap.Scenes)
	if err != nil {
		return nil, err
	}

	states := c.tracker.States()
	out := make([]SceneStatus, 0, len(scenes))
	for _, sc := range scenes {
		st := states[sc.UUID]
		out = append(out, SceneStatus{Scene: sc, Status: st.Status, Score: st.Score})
	}
	return out, nil
}

// ExecuteBatch runs a command batch for the user against the cached
// directory and publishes the outcome
func (c *ControlService) ExecuteBatch(ctx context.Context, user *perm.User, actions []executor.Action) (executor.BatchResult, error) {
	snap := c.directory.Current()
	if snap == nil {
		return executor.BatchResult{}, ErrDirectoryUnavailable
	}

	batch := c.executor.Execute(ctx, user, snap, actions)
	c.bus.Publish(eventbus.BatchCompleted{
		BatchID:   batch.BatchID,
		Username:  user.Username,
		Succeeded: batch.Succeeded(),
		Total:     len(batch.Results),
		Success:   batch.Success,
	})
	return batch, nil
}

// NaturalLanguage asks the collaborator for a candidate batch scoped to
// the user's permissions, then executes it. The proposal is re-authorized
// operation by operation; nothing the model says is trusted.
func (c *ControlService) NaturalLanguage(ctx context.Context, user *perm.User, request string) (*AssistantOutcome, error) {
	if !user.NLPEnabled {
		return nil, fmt.Errorf("%w: %s", ErrAssistantDisabled, user.Username)
	}

	snap := c.directory.Current()
	if snap == nil {
		return nil, ErrDirectoryUnavailable
	}

	devices, err := c.gate.FilterVisible(ctx, user, snap.Devices)
	if err != nil {
		return nil, err
	}
	scenes, err := c.gate.FilterScenes(ctx, user, snap.Scenes)
	if err != nil {
		return nil, err
	}

	proposal, err := c.collaborator.Propose(ctx, request, assistant.BuildContext(devices, scenes))
	if err != nil {
		return nil, err
	}
	if len(proposal.Actions) == 0 {
		return &AssistantOutcome{Summary: proposal.Summary}, nil
	}

	log.Info().
		Str("user", user.Username).
		Int("actions", len(proposal.Actions)).
		Msg("Executing assistant proposal")

	batch, err := c.ExecuteBatch(ctx, user, proposal.Actions)
	if err != nil {
		return nil, err
	}
	return &AssistantOutcome{Summary: proposal.Summary, Batch: batch}, nil
}

// Grant saves a permission grant, resolving its cascade against the
// cached snapshot. A missing snapshot rejects the save and leaves
// existing grants untouched.
func (c *ControlService) Grant(ctx context.Context, userID int64, kind perm.Kind, value string) error {
	if err := c.perms.Grant(ctx, userID, kind, value, c.directory.Current()); err != nil {
		return err
	}
	c.bus.Publish(eventbus.GrantChanged{UserID: userID, Kind: string(kind), Value: value})
	return nil
}

// Revoke removes a grant and recomputes the remaining cascade
func (c *ControlService) Revoke(ctx context.Context, userID int64, kind perm.Kind, value string) error {
	if err := c.perms.Revoke(ctx, userID, kind, value, c.directory.Current()); err != nil {
		return err
	}
	c.bus.Publish(eventbus.GrantChanged{UserID: userID, Kind: string(kind), Value: value, Revoked: true})
	return nil
}

// Grants lists a user's stored grants
func (c *ControlService) Grants(ctx context.Context, userID int64) ([]perm.Grant, error) {
	return c.perms.ListGrants(ctx, userID)
}
