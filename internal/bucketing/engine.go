package bucketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldtrack/coldtrack-server/internal/database"
)

// Class selects which day boundary a sensor buckets under
type Class int

const (
	// ClassCyclic sensors run a 01:00-01:00 local day; the reading at
	// local midnight still belongs to the previous day's label.
	ClassCyclic Class = iota
	// ClassCalendar sensors use the plain local calendar day.
	ClassCalendar
)

// DayLabelFormat is the YYYY-MM-DD shape of every day label
const DayLabelFormat = "2006-01-02"

var (
	// ErrSensorNotFound is returned when a sensor has no data under the tenant
	ErrSensorNotFound = errors.New("sensor unknown or has no data")
	// ErrInvalidDay is returned for a day label that does not parse as YYYY-MM-DD
	ErrInvalidDay = errors.New("day must be formatted YYYY-MM-DD")
)

// Store is the read side the engine aggregates over
type Store interface {
	SensorExists(ctx context.Context, tenantID, sensorID string) (bool, error)
	SelectTimestamps(ctx context.Context, tenantID, sensorID string) ([]time.Time, error)
	SelectRange(ctx context.Context, tenantID, sensorID string, from, to *time.Time) ([]*database.Measurement, error)
}

// Engine groups a sensor's history into operational days under one fixed
// local offset. The same offset backs both label assignment and window
// construction; splitting the two is what produces off-by-one-hour holes
// at day edges.
type Engine struct {
	store                 Store
	loc                   *time.Location
	calendarSensors       map[string]struct{}
	dropTrailingSingleton bool
}

// NewEngine creates a bucketing engine. calendarSensors is the explicit id
// list bucketed by calendar day; all other sensors are cyclic.
func NewEngine(store Store, utcOffsetHours int, calendarSensors []string, dropTrailingSingleton bool) *Engine {
	calendar := make(map[string]struct{}, len(calendarSensors))
	for _, id := range calendarSensors {
		calendar[id] = struct{}{}
	}
	return &Engine{
		store:                 store,
		loc:                   time.FixedZone(fmt.Sprintf("UTC%+d", utcOffsetHours), utcOffsetHours*3600),
		calendarSensors:       calendar,
		dropTrailingSingleton: dropTrailingSingleton,
	}
}

// ClassOf resolves a sensor's bucketing class from the configured table
func (e *Engine) ClassOf(sensorID string) Class {
	if _, ok := e.calendarSensors[sensorID]; ok {
		return ClassCalendar
	}
	return ClassCyclic
}

// Location returns the fixed local zone all day math runs in
func (e *Engine) Location() *time.Location {
	return e.loc
}

// DayLabel assigns one instant to its operational day label.
func (e *Engine) DayLabel(ts time.Time, class Class) string {
	local := ts.In(e.loc)
	if class == ClassCyclic && local.Hour() == 0 {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(DayLabelFormat)
}

// DayWindow returns the half-open absolute window [from, to) covered by a
// day label under the given class.
func (e *Engine) DayWindow(day string, class Class) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DayLabelFormat, day, e.loc)
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidDay
	}
	if class == ClassCyclic {
		start = start.Add(time.Hour)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// knownSensor reports whether a sensor can be queried at all. Sensors on
// the configured calendar list are known even before their first reading;
// everything else only exists once it has data.
func (e *Engine) knownSensor(ctx context.Context, tenantID, sensorID string) (bool, error) {
	if _, ok := e.calendarSensors[sensorID]; ok {
		return true, nil
	}
	return e.store.SensorExists(ctx, tenantID, sensorID)
}

// DayLabels returns the distinct day labels a sensor has data for,
// ascending. An unknown sensor is an error; a known sensor with no data
// yields an empty list.
func (e *Engine) DayLabels(ctx context.Context, tenantID, sensorID string) ([]string, error) {
	known, err := e.knownSensor(ctx, tenantID, sensorID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, ErrSensorNotFound
	}

	times, err := e.store.SelectTimestamps(ctx, tenantID, sensorID)
	if err != nil {
		return nil, err
	}

	class := e.ClassOf(sensorID)

	// Timestamps arrive ascending and the label function is monotonic, so
	// distinct labels fall out in order.
	var labels []string
	var lastCount int
	for _, ts := range times {
		label := e.DayLabel(ts, class)
		if len(labels) == 0 || labels[len(labels)-1] != label {
			labels = append(labels, label)
			lastCount = 0
		}
		lastCount++
	}

	// A lone reading just past the final boundary shows up as a one-entry
	// trailing day; treating it as a real day renders an empty-looking
	// chart. Tunable, calendar class only.
	if class == ClassCalendar && e.dropTrailingSingleton && len(labels) > 1 && lastCount == 1 {
		labels = labels[:len(labels)-1]
	}

	return labels, nil
}

// DayReadings returns a sensor's measurements ascending by timestamp. A
// non-empty day restricts the result to that label's window; an empty day
// returns the full history.
func (e *Engine) DayReadings(ctx context.Context, tenantID, sensorID, day string) ([]*database.Measurement, error) {
	known, err := e.knownSensor(ctx, tenantID, sensorID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, ErrSensorNotFound
	}

	if day == "" {
		return e.store.SelectRange(ctx, tenantID, sensorID, nil, nil)
	}

	from, to, err := e.DayWindow(day, e.ClassOf(sensorID))
	if err != nil {
		return nil, err
	}
	return e.store.SelectRange(ctx, tenantID, sensorID, &from, &to)
}
