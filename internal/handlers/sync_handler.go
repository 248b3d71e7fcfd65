package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/services"
)

// SyncHandler handles sync sweep endpoints
type SyncHandler struct {
	sync      *services.SyncService
	scheduler *services.SyncScheduler
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync *services.SyncService, scheduler *services.SyncScheduler) *SyncHandler {
	return &SyncHandler{
		sync:      sync,
		scheduler: scheduler,
	}
}

// syncStatusResponse is the sweep status plus scheduler info
type syncStatusResponse struct {
	services.SyncStatus
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// TriggerSweep starts a full sync sweep across all active connections.
// Overlapping a running sweep is a no-op that reports its status.
func (h *SyncHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	status, err := h.sync.SyncAll(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Sync sweep failed: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

// SyncUser runs a sync for a single (user, provider) connection
func (h *SyncHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	providerName := chi.URLParam(r, "provider")

	result, err := h.sync.SyncUser(r.Context(), userID, providerName)
	if err != nil {
		var notFound *models.NotFoundError
		var authErr *models.AuthError
		var backoff *models.BackoffError
		var quota *models.QuotaExceededError
		switch {
		case errors.As(err, &notFound):
			h.respondError(w, http.StatusNotFound, "Connection not found.")
		case errors.As(err, &authErr):
			h.respondError(w, http.StatusConflict, err.Error())
		case errors.As(err, &backoff), errors.As(err, &quota):
			h.respondError(w, http.StatusTooManyRequests, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, "Sync failed: "+err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// Status returns the result of the most recent sweep
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{SyncStatus: h.sync.Status()}
	if h.scheduler != nil {
		if next := h.scheduler.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SyncHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
