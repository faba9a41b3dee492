// Package selector implements the LIFX target expression grammar and its
// resolution against a directory snapshot. Expressions are parsed once at the
// boundary into a closed variant type; nothing downstream re-parses strings.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid is returned for malformed or unresolvable target expressions
var ErrInvalid = errors.New("invalid selector")

// Kind discriminates the selector variants
type Kind int

const (
	KindAll Kind = iota
	KindDeviceID
	KindGroupID
	KindSceneID
	KindLabel
)

// String returns the wire prefix for the kind
func (k Kind) String() string {
	switch k {
	case KindAll:
		return "all"
	case KindDeviceID:
		return "id"
	case KindGroupID:
		return "group_id"
	case KindSceneID:
		return "scene_id"
	case KindLabel:
		return "label"
	default:
		return "unknown"
	}
}

// ZoneRange addresses a contiguous span of zones on a multizone device.
// Start and End are inclusive, matching the wire form "|<start>-<end>".
type ZoneRange struct {
	Start int
	End   int
}

func (z ZoneRange) String() string {
	if z.Start == z.End {
		return strconv.Itoa(z.Start)
	}
	return fmt.Sprintf("%d-%d", z.Start, z.End)
}

// Selector is a parsed target expression
type Selector struct {
	Kind  Kind
	Value string     // identifier or label; empty for KindAll
	Zones *ZoneRange // zone suffix; only valid on device selectors
}

// Parse parses a wire-format selector. The zone pipe may arrive
// percent-encoded ("%7C") from transport; both forms are accepted.
func Parse(raw string) (Selector, error) {
	expr := strings.ReplaceAll(raw, "%7C", "|")
	if expr == "" {
		return Selector{}, fmt.Errorf("%w: empty expression", ErrInvalid)
	}

	// Zone suffix applies to the selector before the pipe
	var zones *ZoneRange
	if i := strings.IndexByte(expr, '|'); i >= 0 {
		zr, err := parseZoneRange(expr[i+1:])
		if err != nil {
			return Selector{}, err
		}
		zones = &zr
		expr = expr[:i]
	}

	if expr == "all" {
		if zones != nil {
			return Selector{}, fmt.Errorf("%w: zone range requires a device selector", ErrInvalid)
		}
		return Selector{Kind: KindAll}, nil
	}

	prefix, value, ok := strings.Cut(expr, ":")
	if !ok || value == "" {
		return Selector{}, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	var kind Kind
	switch prefix {
	case "id":
		kind = KindDeviceID
	case "group_id":
		kind = KindGroupID
	case "scene_id":
		kind = KindSceneID
		if _, err := uuid.Parse(value); err != nil {
			return Selector{}, fmt.Errorf("%w: scene id %q is not a uuid", ErrInvalid, value)
		}
	case "label":
		kind = KindLabel
	default:
		return Selector{}, fmt.Errorf("%w: unknown prefix %q", ErrInvalid, prefix)
	}

	if zones != nil && kind != KindDeviceID {
		return Selector{}, fmt.Errorf("%w: zone range requires a device selector", ErrInvalid)
	}

	return Selector{Kind: kind, Value: value, Zones: zones}, nil
}

// parseZoneRange parses "<start>-<end>" or a single "<zone>"
func parseZoneRange(s string) (ZoneRange, error) {
	start, end, isRange := strings.Cut(s, "-")

	from, err := strconv.Atoi(start)
	if err != nil || from < 0 {
		return ZoneRange{}, fmt.Errorf("%w: bad zone range %q", ErrInvalid, s)
	}
	if !isRange {
		return ZoneRange{Start: from, End: from}, nil
	}

	to, err := strconv.Atoi(end)
	if err != nil || to < from {
		return ZoneRange{}, fmt.Errorf("%w: bad zone range %q", ErrInvalid, s)
	}
	return ZoneRange{Start: from, End: to}, nil
}

// String returns the canonical wire form (with a literal pipe)
func (s Selector) String() string {
	var base string
	switch s.Kind {
	case KindAll:
		base = "all"
	default:
		base = s.Kind.String() + ":" + s.Value
	}
	if s.Zones != nil {
		base += "|" + s.Zones.String()
	}
	return base
}

// Encoded returns the wire form with the pipe percent-encoded for transport
func (s Selector) Encoded() string {
	return strings.ReplaceAll(s.String(), "|", "%7C")
}
