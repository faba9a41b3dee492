// Package perm stores permission grants and resolves their cascade into
// concrete device labels against a directory snapshot.
package perm

import (
	"errors"
	"strings"
	"time"

	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/selector"
)

// ErrResolutionFailed is returned when the cascade cannot be computed because
// no directory snapshot is available. The grant-save is rejected; existing
// grants stay untouched. A degraded snapshot must never widen permissions.
var ErrResolutionFailed = errors.New("perm: permission resolution failed")

// ErrUnknownKind is returned for a grant kind outside the closed set
var ErrUnknownKind = errors.New("perm: unknown grant kind")

// Kind is the subject of a grant
type Kind string

const (
	KindDevice Kind = "device"
	KindGroup  Kind = "group"
	KindScene  Kind = "scene"
)

// Valid reports whether the kind is one of the closed set
func (k Kind) Valid() bool {
	return k == KindDevice || k == KindGroup || k == KindScene
}

// Grant is one (user, kind, label) permission entry. Values are labels, not
// identifiers: labels survive a device being replaced under the same name.
type Grant struct {
	UserID int64
	Kind   Kind
	Value  string
}

// User is the authorization subject. Credentials and sessions are handled by
// an external collaborator; only the identity flags matter here.
type User struct {
	ID         int64
	Username   string
	IsAdmin    bool
	IsGuest    bool
	NLPEnabled bool
	CreatedAt  time.Time
}

// ResolvedSet is the cascade expansion of a user's grants, computed at
// grant-save time. Lookups are case-insensitive (labels are normalized).
type ResolvedSet struct {
	Devices map[string]struct{} // device labels
	Groups  map[string]struct{} // group names
	Scenes  map[string]struct{} // scene names, straight from grants
}

func newResolvedSet() *ResolvedSet {
	return &ResolvedSet{
		Devices: make(map[string]struct{}),
		Groups:  make(map[string]struct{}),
		Scenes:  make(map[string]struct{}),
	}
}

func norm(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Empty reports whether the set permits nothing
func (s *ResolvedSet) Empty() bool {
	return s == nil || (len(s.Devices) == 0 && len(s.Groups) == 0 && len(s.Scenes) == 0)
}

// AllowsDeviceLabel reports whether a device label is directly permitted
func (s *ResolvedSet) AllowsDeviceLabel(label string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Devices[norm(label)]
	return ok
}

// AllowsGroupName reports whether a group name is permitted
func (s *ResolvedSet) AllowsGroupName(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Groups[norm(name)]
	return ok
}

// AllowsSceneName reports whether a scene name is permitted
func (s *ResolvedSet) AllowsSceneName(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Scenes[norm(name)]
	return ok
}

// AllowsDevice reports whether a device is within the set, either by its own
// label or through its group.
func (s *ResolvedSet) AllowsDevice(d *lifx.Device) bool {
	if s == nil || d == nil {
		return false
	}
	if s.AllowsDeviceLabel(d.Label) {
		return true
	}
	return d.Group != nil && s.AllowsGroupName(d.Group.Name)
}

// ResolveCascade expands grants against a snapshot. Pure function.
//
// Cascade rule: a device grant contributes exactly that device; a group grant
// contributes the group and every device currently in it; a scene grant
// contributes every device referenced by the scene's target states plus every
// group those devices belong to. The result reflects the snapshot at call
// time and is not implicitly recomputed when the directory later changes.
func ResolveCascade(grants []Grant, snap *lifx.Snapshot) *ResolvedSet {
	set := newResolvedSet()

	for _, g := range grants {
		switch g.Kind {
		case KindDevice:
			set.Devices[norm(g.Value)] = struct{}{}

		case KindGroup:
			set.Groups[norm(g.Value)] = struct{}{}
			if grp := snap.GroupByName(g.Value); grp != nil {
				for _, id := range grp.Devices {
					if d := snap.DeviceByID(id); d != nil {
						set.Devices[norm(d.Label)] = struct{}{}
					}
				}
			}

		case KindScene:
			set.Scenes[norm(g.Value)] = struct{}{}
			sc := sceneByName(snap, g.Value)
			if sc == nil {
				continue
			}
			for _, id := range sceneDeviceIDs(sc, snap) {
				d := snap.DeviceByID(id)
				if d == nil {
					continue
				}
				set.Devices[norm(d.Label)] = struct{}{}
				if d.Group != nil {
					set.Groups[norm(d.Group.Name)] = struct{}{}
				}
			}
		}
	}

	return set
}

func sceneByName(snap *lifx.Snapshot, name string) *lifx.Scene {
	want := norm(name)
	for i := range snap.Scenes {
		if norm(snap.Scenes[i].Name) == want {
			return &snap.Scenes[i]
		}
	}
	return nil
}

// sceneDeviceIDs lists the device ids a scene's target states address.
// States whose selector no longer resolves are skipped.
func sceneDeviceIDs(sc *lifx.Scene, snap *lifx.Snapshot) []string {
	var ids []string
	for _, st := range sc.States {
		sel, err := selector.Parse(st.Selector)
		if err != nil || sel.Kind == selector.KindSceneID {
			continue
		}
		targets, err := selector.Resolve(sel, snap)
		if err != nil {
			continue
		}
		for _, tg := range targets {
			ids = append(ids, tg.DeviceID)
		}
	}
	return ids
}
