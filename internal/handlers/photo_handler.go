package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/repository"
	"github.com/photosync/cloudsync/internal/services"
)

// PhotoHandler handles photo catalog endpoints
type PhotoHandler struct {
	repo    repository.PhotoRepo
	uploads *services.UploadService
}

// NewPhotoHandler creates a new PhotoHandler
func NewPhotoHandler(repo repository.PhotoRepo, uploads *services.UploadService) *PhotoHandler {
	return &PhotoHandler{
		repo:    repo,
		uploads: uploads,
	}
}

// Upload pushes a photo to the user's cloud storage and records it in
// the catalog
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		h.respondError(w, http.StatusBadRequest, "Request must be multipart/form-data.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "No file provided or file is empty.")
		return
	}
	defer file.Close()

	userID := r.FormValue("userId")
	providerName := r.FormValue("provider")
	galleryID := r.FormValue("galleryId")
	galleryName := r.FormValue("galleryName")

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(galleryID) == "" {
		h.respondError(w, http.StatusBadRequest, "userId and galleryId are required.")
		return
	}
	if galleryName == "" {
		galleryName = galleryID
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read file.")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	photo, err := h.uploads.Upload(r.Context(), userID, providerName, galleryID, galleryName, data, header.Filename, mimeType)
	if err != nil {
		h.respondUploadError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, photo)
}

// Get returns a catalog entry by ID
func (h *PhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	photo, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if photo == nil || photo.IsDeleted() {
		h.respondError(w, http.StatusNotFound, "Photo not found.")
		return
	}

	h.respondJSON(w, http.StatusOK, photo)
}

// FileURL returns a fresh provider URL for viewing the photo
func (h *PhotoHandler) FileURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("userId")

	if strings.TrimSpace(userID) == "" {
		h.respondError(w, http.StatusBadRequest, "userId query parameter is required.")
		return
	}

	url, err := h.uploads.FileURL(r.Context(), userID, id)
	if err != nil {
		h.respondUploadError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Delete removes the photo from cloud storage and soft-deletes the
// catalog row
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := r.URL.Query().Get("userId")

	if strings.TrimSpace(userID) == "" {
		h.respondError(w, http.StatusBadRequest, "userId query parameter is required.")
		return
	}

	photo, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Database error.")
		return
	}
	if photo == nil || photo.UserID != userID || photo.IsDeleted() {
		h.respondError(w, http.StatusNotFound, "Photo not found.")
		return
	}

	if err := h.uploads.Delete(r.Context(), userID, photo.Provider, id); err != nil {
		h.respondUploadError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondUploadError maps service errors onto HTTP statuses
func (h *PhotoHandler) respondUploadError(w http.ResponseWriter, err error) {
	var notFound *models.NotFoundError
	var authErr *models.AuthError
	var backoff *models.BackoffError
	var quota *models.QuotaExceededError
	var unsupported *models.UnsupportedProviderError
	switch {
	case errors.As(err, &notFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unsupported):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &authErr):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &backoff), errors.As(err, &quota):
		h.respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, "Storage operation failed.")
	}
}

func (h *PhotoHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *PhotoHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
