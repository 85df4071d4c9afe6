package model

import (
	"encoding/json"
	"strings"
)

// Impact represents how severely an accessibility rule failure affects users.
// The audit engine reports one of four levels; anything else maps to
// ImpactUnknown.
//
// Design decision: We use iota-based constants rather than string constants
// so impacts can be compared and sorted. The JSON form is still the engine's
// lowercase string so stored reports keep the engine vocabulary.
type Impact int

const (
	// ImpactUnknown is used when the engine did not assign an impact,
	// which happens for some incomplete (needs review) results.
	ImpactUnknown Impact = iota

	// ImpactMinor indicates an annoyance that rarely blocks a task.
	ImpactMinor

	// ImpactModerate indicates a barrier that some users can work around.
	ImpactModerate

	// ImpactSerious indicates a barrier that blocks tasks for many users
	// of assistive technology.
	ImpactSerious

	// ImpactCritical indicates content that is unusable for some users.
	ImpactCritical
)

// String returns the lowercase engine name of the impact.
func (i Impact) String() string {
	switch i {
	case ImpactMinor:
		return "minor"
	case ImpactModerate:
		return "moderate"
	case ImpactSerious:
		return "serious"
	case ImpactCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseImpact converts an engine impact string to an Impact.
// Matching is case-insensitive; unrecognized values return ImpactUnknown.
func ParseImpact(s string) Impact {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minor":
		return ImpactMinor
	case "moderate":
		return ImpactModerate
	case "serious":
		return ImpactSerious
	case "critical":
		return ImpactCritical
	default:
		return ImpactUnknown
	}
}

// MarshalJSON encodes the impact as its lowercase name.
func (i Impact) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON decodes an impact name. JSON null decodes to ImpactUnknown
// because the engine emits null for results without an impact.
func (i *Impact) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = ImpactUnknown
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*i = ParseImpact(s)
	return nil
}

// AllImpacts returns every impact level from most to least severe.
// Renderers use it to print breakdowns in a stable order.
func AllImpacts() []Impact {
	return []Impact{ImpactCritical, ImpactSerious, ImpactModerate, ImpactMinor, ImpactUnknown}
}
