package selector

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Selector
		wantErr bool
	}{
		{
			name: "all",
			raw:  "all",
			want: Selector{Kind: KindAll},
		},
		{
			name: "device_id",
			raw:  "id:d073d5123456",
			want: Selector{Kind: KindDeviceID, Value: "d073d5123456"},
		},
		{
			name: "group_id",
			raw:  "group_id:9c8e3b",
			want: Selector{Kind: KindGroupID, Value: "9c8e3b"},
		},
		{
			name: "scene_id",
			raw:  "scene_id:0b3e8a94-7c30-4b43-a1b0-6d6a54e6c7b1",
			want: Selector{Kind: KindSceneID, Value: "0b3e8a94-7c30-4b43-a1b0-6d6a54e6c7b1"},
		},
		{
			name: "label",
			raw:  "label:Kitchen Counter",
			want: Selector{Kind: KindLabel, Value: "Kitchen Counter"},
		},
		{
			name: "zone_range",
			raw:  "id:d073d5123456|0-4",
			want: Selector{Kind: KindDeviceID, Value: "d073d5123456", Zones: &ZoneRange{Start: 0, End: 4}},
		},
		{
			name: "single_zone",
			raw:  "id:d073d5123456|7",
			want: Selector{Kind: KindDeviceID, Value: "d073d5123456", Zones: &ZoneRange{Start: 7, End: 7}},
		},
		{
			name: "encoded_pipe",
			raw:  "id:d073d5123456%7C2-5",
			want: Selector{Kind: KindDeviceID, Value: "d073d5123456", Zones: &ZoneRange{Start: 2, End: 5}},
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "unknown_prefix", raw: "location:Home", wantErr: true},
		{name: "bare_prefix", raw: "id:", wantErr: true},
		{name: "no_prefix", raw: "bedroom", wantErr: true},
		{name: "scene_id_not_uuid", raw: "scene_id:notauuid", wantErr: true},
		{name: "zones_on_all", raw: "all|0-4", wantErr: true},
		{name: "zones_on_group", raw: "group_id:9c8e3b|0-4", wantErr: true},
		{name: "inverted_zone_range", raw: "id:d073d5123456|4-0", wantErr: true},
		{name: "negative_zone", raw: "id:d073d5123456|-1", wantErr: true},
		{name: "garbage_zone", raw: "id:d073d5123456|a-b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.raw, got)
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalid", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.raw, err)
			}
			if got.Kind != tt.want.Kind || got.Value != tt.want.Value {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if (got.Zones == nil) != (tt.want.Zones == nil) {
				t.Fatalf("Parse(%q) zones = %v, want %v", tt.raw, got.Zones, tt.want.Zones)
			}
			if got.Zones != nil && *got.Zones != *tt.want.Zones {
				t.Errorf("Parse(%q) zones = %+v, want %+v", tt.raw, *got.Zones, *tt.want.Zones)
			}
		})
	}
}

func TestSelectorString_RoundTrip(t *testing.T) {
	exprs := []string{
		"all",
		"id:d073d5123456",
		"group_id:9c8e3b",
		"scene_id:0b3e8a94-7c30-4b43-a1b0-6d6a54e6c7b1",
		"label:Desk",
		"id:d073d5123456|0-4",
		"id:d073d5123456|7",
	}
	for _, expr := range exprs {
		sel, err := Parse(expr)
		if err != nil {
			t.Fatalf("Parse(%q) unexpected error: %v", expr, err)
		}
		if sel.String() != expr {
			t.Errorf("Parse(%q).String() = %q", expr, sel.String())
		}
	}
}

func TestSelectorEncoded(t *testing.T) {
	sel, err := Parse("id:d073d5123456|0-4")
	if err != nil {
		t.Fatal(err)
	}
	if got := sel.Encoded(); got != "id:d073d5123456%7C0-4" {
		t.Errorf("Encoded() = %q, want pipe percent-encoded", got)
	}
}
