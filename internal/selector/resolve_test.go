package selector

import (
	"errors"
	"testing"

	"github.com/viaclara/clarad/internal/lifx"
)

const sceneUUID = "e8f2b1d4-3a5c-4f6e-9b7d-1c2e3f4a5b6c"

func testSnapshot() *lifx.Snapshot {
	bedroom := &lifx.Ref{ID: "grp-bed", Name: "Bedroom"}
	kitchen := &lifx.Ref{ID: "grp-kit", Name: "Kitchen"}

	devices := []lifx.Device{
		{ID: "d1", Label: "Bed Left", Group: bedroom},
		{ID: "d2", Label: "Bed Right", Group: bedroom},
		{ID: "d3", Label: "Counter", Group: kitchen},
		{
			ID: "d4", Label: "Beam", Group: kitchen,
			Product: lifx.Product{Capabilities: lifx.Capabilities{HasMultizone: true}},
			Zones:   &lifx.Zones{Count: 10},
		},
	}
	scenes := []lifx.Scene{
		{
			UUID: sceneUUID,
			Name: "Evening",
			States: []lifx.TargetState{
				{Selector: "id:d1", Power: "on"},
				{Selector: "group_id:grp-kit", Power: "on"},
			},
		},
	}
	return lifx.BuildSnapshot(devices, scenes)
}

func deviceIDs(targets []Target) []string {
	ids := make([]string, len(targets))
	for i, tg := range targets {
		ids[i] = tg.DeviceID
	}
	return ids
}

func TestResolve(t *testing.T) {
	snap := testSnapshot()

	tests := []struct {
		name    string
		expr    string
		wantIDs []string
		wantErr bool
	}{
		{name: "all", expr: "all", wantIDs: []string{"d1", "d2", "d3", "d4"}},
		{name: "device", expr: "id:d2", wantIDs: []string{"d2"}},
		{name: "group", expr: "group_id:grp-bed", wantIDs: []string{"d1", "d2"}},
		{name: "label", expr: "label:counter", wantIDs: []string{"d3"}},
		{name: "scene", expr: "scene_id:" + sceneUUID, wantIDs: []string{"d1", "d3", "d4"}},
		{name: "zone_range", expr: "id:d4|0-4", wantIDs: []string{"d4"}},
		{name: "unknown_device", expr: "id:nope", wantErr: true},
		{name: "unknown_group", expr: "group_id:nope", wantErr: true},
		{name: "unknown_label", expr: "label:Garage", wantErr: true},
		{name: "unknown_scene", expr: "scene_id:00000000-0000-0000-0000-000000000000", wantErr: true},
		{name: "zones_on_plain_bulb", expr: "id:d1|0-2", wantErr: true},
		{name: "zone_range_out_of_bounds", expr: "id:d4|8-12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.expr, err)
			}
			targets, err := Resolve(sel, snap)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) expected error, got %v", tt.expr, targets)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Resolve(%q) error = %v, want ErrInvalid", tt.expr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) unexpected error: %v", tt.expr, err)
			}
			got := deviceIDs(targets)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.expr, got, tt.wantIDs)
			}
			for i := range got {
				if got[i] != tt.wantIDs[i] {
					t.Errorf("Resolve(%q)[%d] = %q, want %q", tt.expr, i, got[i], tt.wantIDs[i])
				}
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	snap := testSnapshot()
	sel, _ := Parse("all")

	first, err := Resolve(sel, snap)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Resolve(sel, snap)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("resolution order changed between runs")
		}
		for j := range again {
			if again[j].DeviceID != first[j].DeviceID {
				t.Fatalf("resolution order changed between runs")
			}
		}
	}
}

func TestTargetSelector(t *testing.T) {
	tg := Target{DeviceID: "d4", Zones: &ZoneRange{Start: 5, End: 9}}
	if got := tg.Selector(); got != "id:d4|5-9" {
		t.Errorf("Target.Selector() = %q, want %q", got, "id:d4|5-9")
	}
	plain := Target{DeviceID: "d1"}
	if got := plain.Selector(); got != "id:d1" {
		t.Errorf("Target.Selector() = %q, want %q", got, "id:d1")
	}
}
