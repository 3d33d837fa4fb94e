package protocol

import (
	"time"
)

// MeasurementEvent is the message published for every accepted reading,
// keyed by tenant so one tenant's stream stays ordered per partition.
type MeasurementEvent struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	SensorID   string             `json:"sensor_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Value      *float64           `json:"value,omitempty"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
	AcceptedAt time.Time          `json:"accepted_at"`
}
