package projection

import (
	"sort"
	"time"

	"github.com/coldtrack/coldtrack-server/internal/database"
)

// Reading is the stable output shape of one measurement
type Reading struct {
	Timestamp    time.Time          `json:"timestamp"`
	PrimaryValue float64            `json:"primaryValue"`
	Fields       map[string]float64 `json:"fields"`
}

// Projector normalizes stored measurements for rendering
type Projector struct {
	primaryField string
}

// NewProjector creates a projector. primaryField is the metadata key that
// substitutes for a missing primary value.
func NewProjector(primaryField string) *Projector {
	return &Projector{primaryField: primaryField}
}

// Project flattens one measurement. When the primary value is absent it
// falls back to the configured metadata field, else zero; callers that must
// tell "no data" from zero inspect Fields instead.
func (p *Projector) Project(m *database.Measurement) Reading {
	fields := make(map[string]float64, len(m.Metadata))
	for k, v := range m.Metadata {
		fields[k] = v
	}

	var primary float64
	switch {
	case m.Value != nil:
		primary = *m.Value
	default:
		primary = fields[p.primaryField]
	}

	return Reading{
		Timestamp:    m.Timestamp,
		PrimaryValue: primary,
		Fields:       fields,
	}
}

// ProjectAll projects a measurement sequence in order
func (p *Projector) ProjectAll(measurements []*database.Measurement) []Reading {
	readings := make([]Reading, 0, len(measurements))
	for _, m := range measurements {
		readings = append(readings, p.Project(m))
	}
	return readings
}

// DiscoverFields returns the sorted union of field names present across a
// projected sequence, so callers can render metrics that did not exist when
// they were written.
func DiscoverFields(readings []Reading) []string {
	seen := make(map[string]struct{})
	for _, r := range readings {
		for name := range r.Fields {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
