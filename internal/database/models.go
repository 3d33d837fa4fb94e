package database

import (
	"time"
)

// Tenant represents one operator whose sensors are isolated from all others
type Tenant struct {
	ID        string
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// Measurement represents one immutable sensor reading
type Measurement struct {
	ID        string
	TenantID  string
	SensorID  string
	Timestamp time.Time
	Value     *float64
	Metadata  map[string]float64
	CreatedAt time.Time
}

// MeasurementFilter narrows a measurement listing
type MeasurementFilter struct {
	SensorID string
	From     *time.Time
	To       *time.Time
	Limit    int
	Skip     int
}

// SensorSummary is one sensor of a tenant with its most recent reading
type SensorSummary struct {
	SensorID string
	Count    int
	Last     *Measurement
}
