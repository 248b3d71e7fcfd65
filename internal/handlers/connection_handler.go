package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/repository"
	"github.com/photosync/cloudsync/internal/services"
)

// ConnectionHandler handles storage connection endpoints
type ConnectionHandler struct {
	tokens      *services.TokenManager
	connections repository.ConnectionRepo
	limiter     *services.RateLimiter
	cfg         *config.Config
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(tokens *services.TokenManager, connections repository.ConnectionRepo, limiter *services.RateLimiter, cfg *config.Config) *ConnectionHandler {
	return &ConnectionHandler{
		tokens:      tokens,
		connections: connections,
		limiter:     limiter,
		cfg:         cfg,
	}
}

// Connect establishes (or replaces) a storage connection for a user
func (h *ConnectionHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		h.respondError(w, http.StatusBadRequest, "User ID is required.")
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		h.respondError(w, http.StatusBadRequest, "Access token is required.")
		return
	}

	conn, err := h.tokens.Connect(r.Context(), req.UserID, req.Provider, req.AccessToken, req.RefreshToken, req.ExpiresAt)
	if err != nil {
		var unsupported *models.UnsupportedProviderError
		if errors.As(err, &unsupported) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		var connErr models.ConnectionError
		if errors.As(err, &connErr) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to establish connection.")
		return
	}

	h.respondJSON(w, http.StatusCreated, models.ConnectionView(conn))
}

// Get returns the connection state for a (user, provider) pair
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	providerName := chi.URLParam(r, "provider")

	conn, err := h.connections.Get(r.Context(), userID, providerName)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if conn == nil {
		h.respondError(w, http.StatusNotFound, "Connection not found.")
		return
	}

	h.respondJSON(w, http.StatusOK, models.ConnectionView(conn))
}

// List returns every active connection
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.GetAllActive(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}

	views := make([]models.ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		views = append(views, models.ConnectionView(conn))
	}

	h.respondJSON(w, http.StatusOK, views)
}

// Disconnect marks the connection as disconnected
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	providerName := chi.URLParam(r, "provider")

	if err := h.tokens.Disconnect(r.Context(), userID, providerName, "user requested"); err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			h.respondError(w, http.StatusNotFound, "Connection not found.")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to disconnect.")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Usage returns quota consumption for a connection
func (h *ConnectionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	providerName := chi.URLParam(r, "provider")

	if !models.IsValidProvider(providerName) {
		h.respondError(w, http.StatusBadRequest, "Unsupported provider.")
		return
	}

	quota := h.cfg.QuotaFor(providerName)
	usage := make(map[string]models.OperationUsage, len(services.Operations))
	for _, op := range services.Operations {
		hour, day := h.limiter.Usage(userID, providerName, op)
		usage[op] = models.OperationUsage{HourlyUsed: hour, DailyUsed: day}
	}

	h.respondJSON(w, http.StatusOK, models.UsageResponse{
		UserID:      userID,
		Provider:    providerName,
		HourlyQuota: quota.Hourly,
		DailyQuota:  quota.Daily,
		Operations:  usage,
	})
}

func (h *ConnectionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *ConnectionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
