package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/taxi-maintenance/internal/fleet"
	"github.com/ukydev/taxi-maintenance/internal/middleware"
	"github.com/ukydev/taxi-maintenance/internal/models"
	"github.com/ukydev/taxi-maintenance/internal/persistence"
	"github.com/ukydev/taxi-maintenance/internal/status"
)

// StoreResolver returns the fleet store scoped to one owner. The composition
// root decides how stores are created and cached; handlers only consume them.
type StoreResolver func(ctx context.Context, ownerID string) (*fleet.Store, error)

// FleetHandler exposes the fleet commands and derived views over HTTP.
type FleetHandler struct {
	resolve StoreResolver
}

// NewFleetHandler creates a fleet handler.
func NewFleetHandler(resolve StoreResolver) *FleetHandler {
	return &FleetHandler{resolve: resolve}
}

// Register wires the fleet routes onto the mux.
func (h *FleetHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vehicles", h.ListVehicles)
	mux.HandleFunc("POST /api/vehicles", h.AddVehicle)
	mux.HandleFunc("GET /api/vehicles/{id}", h.GetVehicle)
	mux.HandleFunc("DELETE /api/vehicles/{id}", h.DeleteVehicle)
	mux.HandleFunc("POST /api/vehicles/{id}/maintenance", h.LogMaintenance)
	mux.HandleFunc("GET /api/vehicles/{id}/history", h.ListHistory)
	mux.HandleFunc("PUT /api/vehicles/{id}/history/{eventID}", h.EditHistoryEntry)
	mux.HandleFunc("DELETE /api/vehicles/{id}/history/{eventID}", h.DeleteHistoryEntry)
}

func (h *FleetHandler) store(w http.ResponseWriter, r *http.Request) (*fleet.Store, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return nil, false
	}
	store, err := h.resolve(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).WithField("owner", claims.UserID).Error("store resolution failed")
		http.Error(w, "Storage unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return store, true
}

// ListVehicles returns every vehicle with its status derived as of now.
func (h *FleetHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	views, err := store.Views()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// AddVehicle creates a taxi.
func (h *FleetHandler) AddVehicle(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var in fleet.AddVehicleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	id, err := store.AddVehicle(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetVehicle returns one derived view.
func (h *FleetHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	view, err := store.DeriveView(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteVehicle removes a taxi and its history.
func (h *FleetHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := store.DeleteVehicle(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logMaintenanceRequest struct {
	Date           string   `json:"date"`
	Km             int      `json:"km"`
	OilUsed        string   `json:"oil_used"`
	FiltersChanged []string `json:"filters_changed"`
	ChangedAfocat  string   `json:"changed_afocat"`
	ChangedReview  string   `json:"changed_review"`
}

// LogMaintenance records a service event on a vehicle.
func (h *FleetHandler) LogMaintenance(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req logMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	event := models.MaintenanceEvent{
		Date:           req.Date,
		Km:             req.Km,
		OilUsed:        req.OilUsed,
		FiltersChanged: req.FiltersChanged,
		ChangedAfocat:  req.ChangedAfocat,
		ChangedReview:  req.ChangedReview,
	}
	id, err := store.LogMaintenance(r.Context(), r.PathValue("id"), event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ListHistory returns a vehicle's maintenance trail, newest first.
func (h *FleetHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	events, err := store.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type editHistoryRequest struct {
	Date           *string   `json:"date"`
	Km             *int      `json:"km"`
	OilUsed        *string   `json:"oil_used"`
	FiltersChanged *[]string `json:"filters_changed"`
	ChangedAfocat  *string   `json:"changed_afocat"`
	ChangedReview  *string   `json:"changed_review"`
}

// EditHistoryEntry patches one history record. Counters on the parent vehicle
// are not recomputed.
func (h *FleetHandler) EditHistoryEntry(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var req editHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	patch := models.EventPatch{
		Date:           req.Date,
		Km:             req.Km,
		OilUsed:        req.OilUsed,
		FiltersChanged: req.FiltersChanged,
		ChangedAfocat:  req.ChangedAfocat,
		ChangedReview:  req.ChangedReview,
	}
	if err := store.EditHistoryEntry(r.Context(), r.PathValue("id"), r.PathValue("eventID"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHistoryEntry removes one history record.
func (h *FleetHandler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := store.DeleteHistoryEntry(r.Context(), r.PathValue("id"), r.PathValue("eventID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the core error taxonomy onto HTTP statuses. Permission
// problems get their own status so the client can tell the user to check
// the backend's access rules instead of showing a generic failure.
func writeError(w http.ResponseWriter, err error) {
	var parseErr *status.ParseError
	switch {
	case errors.As(err, &parseErr):
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
	case errors.Is(err, fleet.ErrNegativeKm), errors.Is(err, fleet.ErrPlateRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, persistence.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, persistence.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.WithError(err).Error("fleet command failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
