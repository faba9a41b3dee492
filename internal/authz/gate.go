// Package authz enforces permission scoping: read-time filtering of what a
// user is shown and write-time authorization of what a user may command.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/perm"
	"github.com/viaclara/clarad/internal/selector"
)

// ErrPermissionDenied is returned when a user lacks a grant for every device
// a request addresses. Denials are never retried.
var ErrPermissionDenied = errors.New("authz: permission denied")

// PermissionSource provides the resolved permission set stored for a user.
// *perm.Store satisfies it.
type PermissionSource interface {
	Resolved(ctx context.Context, userID int64) (*perm.ResolvedSet, error)
}

// Decision is the per-device outcome of write-time authorization
type Decision struct {
	Permitted []selector.Target
	Denied    []selector.Target
}

// Gate checks requests against resolved permission sets. Admin bypasses
// every check unconditionally.
type Gate struct {
	perms PermissionSource
}

// NewGate creates an authorization gate
func NewGate(perms PermissionSource) *Gate {
	return &Gate{perms: perms}
}

// FilterVisible returns the devices a user may see. Fail-closed: a user with
// no resolved permissions sees nothing.
func (g *Gate) FilterVisible(ctx context.Context, user *perm.User, devices []lifx.Device) ([]lifx.Device, error) {
	if user.IsAdmin {
		return devices, nil
	}
	set, err := g.perms.Resolved(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for user %d: %w", user.ID, err)
	}
	return lo.Filter(devices, func(d lifx.Device, _ int) bool {
		return set.AllowsDevice(&d)
	}), nil
}

// FilterScenes returns the scenes a user may see and activate
func (g *Gate) FilterScenes(ctx context.Context, user *perm.User, scenes []lifx.Scene) ([]lifx.Scene, error) {
	if user.IsAdmin {
		return scenes, nil
	}
	set, err := g.perms.Resolved(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for user %d: %w", user.ID, err)
	}
	return lo.Filter(scenes, func(sc lifx.Scene, _ int) bool {
		return set.AllowsSceneName(sc.Name)
	}), nil
}

// Authorize checks every resolved target independently against the user's
// resolved permission set. When all targets are denied the error is
// ErrPermissionDenied, never a silent no-op.
func (g *Gate) Authorize(ctx context.Context, user *perm.User, snap *lifx.Snapshot, targets []selector.Target) (Decision, error) {
	if user.IsAdmin {
		return Decision{Permitted: targets}, nil
	}

	set, err := g.perms.Resolved(ctx, user.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load permissions for user %d: %w", user.ID, err)
	}

	var dec Decision
	for _, tg := range targets {
		if set.AllowsDevice(snap.DeviceByID(tg.DeviceID)) {
			dec.Permitted = append(dec.Permitted, tg)
		} else {
			dec.Denied = append(dec.Denied, tg)
		}
	}

	if len(targets) > 0 && len(dec.Permitted) == 0 {
		return dec, fmt.Errorf("%w: user %q may not address any of the %d requested devices",
			ErrPermissionDenied, user.Username, len(targets))
	}
	return dec, nil
}

// AuthorizeSelector resolves a selector and authorizes the result, applying
// the selector-level policies:
//
//   - `all` is reinterpreted as "all devices this user may see"; the
//     remainder of the directory is not a denial, it was never addressed.
//   - scene selectors are all-or-nothing: activating a scene that addresses
//     any device outside the permission set is rejected outright.
//   - other selectors may be partially permitted; the denied remainder is
//     reported alongside.
func (g *Gate) AuthorizeSelector(ctx context.Context, user *perm.User, snap *lifx.Snapshot, sel selector.Selector) (Decision, error) {
	targets, err := selector.Resolve(sel, snap)
	if err != nil {
		// Unresolvable selector means zero permitted devices, never "all"
		return Decision{}, err
	}

	dec, err := g.Authorize(ctx, user, snap, targets)
	if err != nil {
		return dec, err
	}

	switch sel.Kind {
	case selector.KindAll:
		// The permitted subset is the request; drop the rest silently
		return Decision{Permitted: dec.Permitted}, nil
	case selector.KindSceneID:
		if len(dec.Denied) > 0 {
			return dec, fmt.Errorf("%w: scene %q addresses %d device(s) outside user %q's permissions",
				ErrPermissionDenied, sel.Value, len(dec.Denied), user.Username)
		}
		return dec, nil
	default:
		return dec, nil
	}
}
