package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires every route. Everything under /api runs behind the
// tenant-resolving middleware; /health does not.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.requireTenant)
	api.HandleFunc("/measurements", h.postMeasurement).Methods(http.MethodPost)
	api.HandleFunc("/measurements", h.listMeasurements).Methods(http.MethodGet)
	api.HandleFunc("/measurements/sensors", h.listSensors).Methods(http.MethodGet)
	api.HandleFunc("/measurements/sensors/{sensor}/days", h.getDayLabels).Methods(http.MethodGet)
	api.HandleFunc("/measurements/sensors/{sensor}", h.getDayReadings).Methods(http.MethodGet)

	return r
}
