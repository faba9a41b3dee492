// Package scene compares a scene's recorded target states against the
// observed device states and scores how closely the scene is realised.
package scene

import (
	"math"

	"github.com/viaclara/clarad/internal/lifx"
	"github.com/viaclara/clarad/internal/selector"
)

// Default tolerances; each is overridable through configuration.
const (
	DefaultBrightnessTolerance = 0.05 // 0-1 scale
	DefaultSaturationTolerance = 0.10 // 0-1 scale
	DefaultHueTolerance        = 10.0 // degrees
	DefaultKelvinTolerance     = 200.0
	DefaultMatchThreshold      = 0.70 // fraction of target states that must match

	// Saturation below this means the device is in white mode and kelvin
	// is the color signal that matters.
	whiteModeSaturation = 0.01
)

// Tolerances holds the per-attribute match tolerances and the aggregate
// activation threshold. Zero values fall back to the defaults above.
type Tolerances struct {
	Brightness float64
	Saturation float64
	HueDegrees float64
	Kelvin     float64
	Threshold  float64
}

func (t Tolerances) withDefaults() Tolerances {
	if t.Brightness == 0 {
		t.Brightness = DefaultBrightnessTolerance
	}
	if t.Saturation == 0 {
		t.Saturation = DefaultSaturationTolerance
	}
	if t.HueDegrees == 0 {
		t.HueDegrees = DefaultHueTolerance
	}
	if t.Kelvin == 0 {
		t.Kelvin = DefaultKelvinTolerance
	}
	if t.Threshold == 0 {
		t.Threshold = DefaultMatchThreshold
	}
	return t
}

// Status is the outcome of checking one scene against a snapshot
type Status struct {
	Active        bool    `json:"active"`
	MatchedStates int     `json:"matched_states"`
	TotalStates   int     `json:"total_states"`
	Score         float64 `json:"score"`
}

// Matcher scores scene activation. It is stateless and safe for concurrent use.
type Matcher struct {
	tol Tolerances
}

// NewMatcher creates a matcher with the given tolerances (zero fields default)
func NewMatcher(tol Tolerances) *Matcher {
	return &Matcher{tol: tol.withDefaults()}
}

// Threshold returns the activation threshold in effect
func (m *Matcher) Threshold() float64 {
	return m.tol.Threshold
}

// HueDistance is the circular distance between two hues in degrees,
// symmetric and bounded in [0, 180].
func HueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, 360-d)
}

// DeviceMatches reports whether a device's observed state satisfies one
// target state. The result is a single boolean derived from the independent
// tolerance checks; an off device matches on power alone.
func (m *Matcher) DeviceMatches(d *lifx.Device, target lifx.TargetState) bool {
	if target.Power != "" && d.Power != target.Power {
		return false
	}

	// Color and brightness are only meaningful while the light is on
	if !d.IsOn() {
		return true
	}

	if target.Brightness != nil &&
		math.Abs(d.Brightness-*target.Brightness) > m.tol.Brightness {
		return false
	}

	if target.Color == nil {
		return true
	}

	if math.Abs(d.Color.Saturation-target.Color.Saturation) > m.tol.Saturation {
		return false
	}

	if target.Color.Saturation < whiteModeSaturation {
		// White mode: kelvin carries the color; hue is undefined
		return math.Abs(float64(d.Color.Kelvin-target.Color.Kelvin)) <= m.tol.Kelvin
	}

	// Color mode: hue decides, kelvin is a secondary signal we don't fail on
	return HueDistance(d.Color.Hue, target.Color.Hue) <= m.tol.HueDegrees
}

// MatchScore returns the fraction of the scene's target states whose devices
// currently match, in [0, 1]. Pure function of its inputs.
func (m *Matcher) MatchScore(sc *lifx.Scene, snap *lifx.Snapshot) float64 {
	return m.Check(sc, snap).Score
}

// Check computes the full activation status of a scene against a snapshot.
// A target state counts as matched when at least one device it addresses
// satisfies its tolerances; states that no longer resolve count as unmatched.
func (m *Matcher) Check(sc *lifx.Scene, snap *lifx.Snapshot) Status {
	total := len(sc.States)
	if total == 0 {
		return Status{}
	}

	matched := 0
	for _, st := range sc.States {
		if m.stateMatched(st, snap) {
			matched++
		}
	}

	score := float64(matched) / float64(total)
	return Status{
		Active:        score >= m.tol.Threshold,
		MatchedStates: matched,
		TotalStates:   total,
		Score:         score,
	}
}

func (m *Matcher) stateMatched(st lifx.TargetState, snap *lifx.Snapshot) bool {
	sel, err := selector.Parse(st.Selector)
	if err != nil || sel.Kind == selector.KindSceneID {
		return false
	}
	targets, err := selector.Resolve(sel, snap)
	if err != nil {
		return false
	}

	for _, tg := range targets {
		d := snap.DeviceByID(tg.DeviceID)
		if d != nil && m.DeviceMatches(d, st) {
			return true
		}
	}
	return false
}
