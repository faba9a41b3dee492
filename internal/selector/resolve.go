package selector

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/viaclara/clarad/internal/lifx"
)

// Target is one resolved addressable unit: a device, optionally narrowed to
// a zone span for multizone hardware.
type Target struct {
	DeviceID string
	Zones    *ZoneRange
}

// Selector returns the wire selector addressing exactly this target
func (t Target) Selector() string {
	s := Selector{Kind: KindDeviceID, Value: t.DeviceID, Zones: t.Zones}
	return s.String()
}

func (t Target) key() string {
	if t.Zones == nil {
		return t.DeviceID
	}
	return t.DeviceID + "|" + t.Zones.String()
}

// Resolve expands a selector into an ordered, deduplicated target list
// against the given snapshot. It is a pure function of its inputs: the same
// selector and snapshot always produce the same targets, so read-filtering
// and write-authorization resolve identically.
func Resolve(sel Selector, snap *lifx.Snapshot) ([]Target, error) {
	var targets []Target

	switch sel.Kind {
	case KindAll:
		for _, d := range snap.Devices {
			targets = append(targets, Target{DeviceID: d.ID})
		}

	case KindDeviceID:
		d := snap.DeviceByID(sel.Value)
		if d == nil {
			return nil, fmt.Errorf("%w: unknown device %q", ErrInvalid, sel.Value)
		}
		if sel.Zones != nil {
			if !d.IsMultizone() {
				return nil, fmt.Errorf("%w: device %q has no zones", ErrInvalid, sel.Value)
			}
			if sel.Zones.End >= d.ZoneCount() {
				return nil, fmt.Errorf("%w: zone range %s out of bounds for device %q (%d zones)",
					ErrInvalid, sel.Zones, sel.Value, d.ZoneCount())
			}
		}
		targets = append(targets, Target{DeviceID: d.ID, Zones: sel.Zones})

	case KindGroupID:
		g := snap.GroupByID(sel.Value)
		if g == nil {
			return nil, fmt.Errorf("%w: unknown group %q", ErrInvalid, sel.Value)
		}
		for _, id := range g.Devices {
			targets = append(targets, Target{DeviceID: id})
		}

	case KindSceneID:
		sc := snap.SceneByUUID(sel.Value)
		if sc == nil {
			return nil, fmt.Errorf("%w: unknown scene %q", ErrInvalid, sel.Value)
		}
		targets = append(targets, sceneTargets(sc, snap)...)

	case KindLabel:
		d := snap.DeviceByLabel(sel.Value)
		if d == nil {
			return nil, fmt.Errorf("%w: no device labelled %q", ErrInvalid, sel.Value)
		}
		targets = append(targets, Target{DeviceID: d.ID})

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalid, sel.Kind)
	}

	return lo.UniqBy(targets, Target.key), nil
}

// sceneTargets expands a scene into the devices its target states address.
// States whose selector no longer resolves are skipped: the device has left
// the directory, so there is nothing to command or authorize for it.
func sceneTargets(sc *lifx.Scene, snap *lifx.Snapshot) []Target {
	var targets []Target
	for _, st := range sc.States {
		sel, err := Parse(st.Selector)
		if err != nil || sel.Kind == KindSceneID {
			continue
		}
		resolved, err := Resolve(sel, snap)
		if err != nil {
			continue
		}
		targets = append(targets, resolved...)
	}
	return targets
}
