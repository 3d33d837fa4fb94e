package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/coldtrack/coldtrack-server/internal/bucketing"
	"github.com/coldtrack/coldtrack-server/internal/database"
	"github.com/coldtrack/coldtrack-server/internal/ingest"
	"github.com/coldtrack/coldtrack-server/internal/projection"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Ingestor accepts one validated reading per call
type Ingestor interface {
	Ingest(ctx context.Context, tenantID string, req ingest.Request) (*database.Measurement, error)
}

// Bucketer serves day-oriented reads for one sensor
type Bucketer interface {
	DayLabels(ctx context.Context, tenantID, sensorID string) ([]string, error)
	DayReadings(ctx context.Context, tenantID, sensorID, day string) ([]*database.Measurement, error)
	ClassOf(sensorID string) bucketing.Class
	DayLabel(ts time.Time, class bucketing.Class) string
}

// Lister serves the flat measurement listings
type Lister interface {
	SelectMeasurements(ctx context.Context, tenantID string, filter database.MeasurementFilter) ([]*database.Measurement, error)
	CountMeasurements(ctx context.Context, tenantID string, filter database.MeasurementFilter) (int, error)
	SelectSensorSummaries(ctx context.Context, tenantID string) ([]*database.SensorSummary, error)
}

// Handlers holds the services behind the HTTP surface
type Handlers struct {
	tenants   TenantResolver
	ingestor  Ingestor
	buckets   Bucketer
	lister    Lister
	projector *projection.Projector
}

// NewHandlers creates the handler set
func NewHandlers(tenants TenantResolver, ingestor Ingestor, buckets Bucketer, lister Lister, projector *projection.Projector) *Handlers {
	return &Handlers{
		tenants:   tenants,
		ingestor:  ingestor,
		buckets:   buckets,
		lister:    lister,
		projector: projector,
	}
}

type ingestRequest struct {
	SensorID  string             `json:"sensor_id"`
	Value     *float64           `json:"value"`
	Timestamp string             `json:"timestamp"`
	Metadata  map[string]float64 `json:"metadata"`
}

type measurementJSON struct {
	ID        string             `json:"id"`
	SensorID  string             `json:"sensor_id"`
	Timestamp time.Time          `json:"timestamp"`
	Value     *float64           `json:"value,omitempty"`
	Metadata  map[string]float64 `json:"metadata,omitempty"`
}

func toMeasurementJSON(m *database.Measurement) measurementJSON {
	return measurementJSON{
		ID:        m.ID,
		SensorID:  m.SensorID,
		Timestamp: m.Timestamp,
		Value:     m.Value,
		Metadata:  m.Metadata,
	}
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handlers) postMeasurement(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Request body must be valid JSON")
		return
	}

	m, err := h.ingestor.Ingest(r.Context(), tenantFromContext(r.Context()), ingest.Request{
		SensorID:  body.SensorID,
		Timestamp: body.Timestamp,
		Value:     body.Value,
		Metadata:  body.Metadata,
	})

	var vErr *ingest.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "validation_error",
			"message": "Invalid payload",
			"details": vErr.Details,
		})
	case errors.Is(err, database.ErrDuplicate):
		writeError(w, http.StatusConflict, "duplicate_ts", "A measurement already exists for this sensor at this timestamp")
	case err != nil:
		log.Printf("Failed to ingest measurement: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error inserting measurement")
	default:
		writeJSON(w, http.StatusCreated, toMeasurementJSON(m))
	}
}

func (h *Handlers) listMeasurements(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	filter := database.MeasurementFilter{
		SensorID: r.URL.Query().Get("sensor_id"),
		Limit:    defaultListLimit,
	}

	for _, bound := range []struct {
		param string
		dst   **time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		if raw := r.URL.Query().Get(bound.param); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", bound.param+" must be a valid RFC3339 instant")
				return
			}
			*bound.dst = &ts
		}
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 && limit <= maxListLimit {
			filter.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("skip"); raw != "" {
		if skip, err := strconv.Atoi(raw); err == nil && skip >= 0 {
			filter.Skip = skip
		}
	}

	measurements, err := h.lister.SelectMeasurements(r.Context(), tenantID, filter)
	if err != nil {
		log.Printf("Failed to list measurements: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching measurements")
		return
	}

	total, err := h.lister.CountMeasurements(r.Context(), tenantID, filter)
	if err != nil {
		log.Printf("Failed to count measurements: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching measurements")
		return
	}

	data := make([]measurementJSON, 0, len(measurements))
	for _, m := range measurements {
		data = append(data, toMeasurementJSON(m))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
		"pagination": map[string]interface{}{
			"total":   total,
			"limit":   filter.Limit,
			"skip":    filter.Skip,
			"hasMore": filter.Skip+len(data) < total,
		},
	})
}

func (h *Handlers) listSensors(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.lister.SelectSensorSummaries(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		log.Printf("Failed to list sensors: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching sensors")
		return
	}

	type sensorJSON struct {
		ID          string             `json:"id"`
		Count       int                `json:"count"`
		LastReading projection.Reading `json:"lastReading"`
	}

	sensors := make([]sensorJSON, 0, len(summaries))
	for _, s := range summaries {
		sensors = append(sensors, sensorJSON{
			ID:          s.SensorID,
			Count:       s.Count,
			LastReading: h.projector.Project(s.Last),
		})
	}

	writeJSON(w, http.StatusOK, sensors)
}

func (h *Handlers) getDayLabels(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor"]

	labels, err := h.buckets.DayLabels(r.Context(), tenantFromContext(r.Context()), sensorID)
	if errors.Is(err, bucketing.ErrSensorNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Sensor unknown or has no data")
		return
	}
	if err != nil {
		log.Printf("Failed to list day labels for %s: %v", sensorID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching dates")
		return
	}

	if labels == nil {
		labels = []string{}
	}
	writeJSON(w, http.StatusOK, labels)
}

func (h *Handlers) getDayReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor"]
	day := r.URL.Query().Get("day")

	measurements, err := h.buckets.DayReadings(r.Context(), tenantFromContext(r.Context()), sensorID, day)
	switch {
	case errors.Is(err, bucketing.ErrSensorNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Sensor unknown or has no data")
		return
	case errors.Is(err, bucketing.ErrInvalidDay):
		writeError(w, http.StatusBadRequest, "validation_error", "day must be formatted YYYY-MM-DD")
		return
	case err != nil:
		log.Printf("Failed to fetch readings for %s: %v", sensorID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Error fetching readings")
		return
	}

	readings := h.projector.ProjectAll(measurements)

	response := map[string]interface{}{
		"readings": readings,
		"fields":   projection.DiscoverFields(readings),
	}

	// Without a day filter the frontend wants to know which day to open
	if day == "" && len(measurements) > 0 {
		last := measurements[len(measurements)-1]
		response["lastDate"] = h.buckets.DayLabel(last.Timestamp, h.buckets.ClassOf(sensorID))
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{
		"error":   kind,
		"message": message,
	})
}
