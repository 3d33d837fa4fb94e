package ingest

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coldtrack/coldtrack-server/internal/database"
)

// ValidationError carries every violated field so the caller can fix the
// whole request in one round trip.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid payload: " + strings.Join(e.Details, "; ")
}

// Request is one reading as submitted by a device
type Request struct {
	SensorID  string
	Timestamp string
	Value     *float64
	Metadata  map[string]float64
}

// Store persists accepted measurements
type Store interface {
	InsertMeasurement(ctx context.Context, m *database.Measurement) error
}

// Publisher fans accepted measurements out to downstream consumers
type Publisher interface {
	PublishAccepted(ctx context.Context, m *database.Measurement) error
}

// Service validates and persists readings one at a time
type Service struct {
	store     Store
	publisher Publisher
	now       func() time.Time
}

// NewService creates an ingestion service. publisher may be nil.
func NewService(store Store, publisher Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// Ingest validates one reading and appends it. A reading that collides on
// (tenant, sensor, timestamp) returns database.ErrDuplicate untouched; the
// service never overwrites, merges, or retries. Retry policy belongs to the
// device, which can resubmit without a timestamp for a fresh server clock.
func (s *Service) Ingest(ctx context.Context, tenantID string, req Request) (*database.Measurement, error) {
	sensorID := strings.TrimSpace(req.SensorID)

	var details []string
	if sensorID == "" {
		details = append(details, "sensor_id is required and cannot be empty")
	}

	ts := s.now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			details = append(details, "timestamp must be a valid RFC3339 instant")
		} else {
			ts = parsed.UTC()
		}
	}

	if req.Value != nil && (math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0)) {
		details = append(details, "value must be a finite number")
	}

	if len(details) > 0 {
		return nil, &ValidationError{Details: details}
	}

	m := &database.Measurement{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SensorID:  sensorID,
		Timestamp: ts,
		Value:     req.Value,
		Metadata:  req.Metadata,
	}

	if err := s.store.InsertMeasurement(ctx, m); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		// Fan-out is best effort; the reading is already durable
		if err := s.publisher.PublishAccepted(ctx, m); err != nil {
			log.Printf("Failed to publish accepted measurement %s: %v", m.ID, err)
		}
	}

	return m, nil
}
