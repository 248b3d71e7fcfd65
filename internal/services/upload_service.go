package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/repository"
)

// resumableThreshold is the payload size above which uploads go through
// the provider's chunked session protocol
const resumableThreshold = 8 * 1024 * 1024

// UploadService pushes files into gallery folders and records them in
// the catalog
type UploadService struct {
	photos  repository.PhotoRepo
	folders *FolderManager
	tokens  *TokenManager
	limiter *RateLimiter
	exif    *EXIFService
	audit   *AuditService
	cache   *TTLCache
}

// NewUploadService creates an upload service
func NewUploadService(photos repository.PhotoRepo, folders *FolderManager, tokens *TokenManager, limiter *RateLimiter, exif *EXIFService, audit *AuditService, cache *TTLCache) *UploadService {
	return &UploadService{
		photos:  photos,
		folders: folders,
		tokens:  tokens,
		limiter: limiter,
		exif:    exif,
		audit:   audit,
		cache:   cache,
	}
}

// Upload stores a file in the gallery's provider folder and adds it to
// the catalog. Large payloads use the provider's resumable protocol.
func (s *UploadService) Upload(ctx context.Context, userID, provider, galleryID, galleryName string, data []byte, name, mimeType string) (*models.Photo, error) {
	if err := s.limiter.Allow(userID, provider, OpFileUpload); err != nil {
		return nil, err
	}

	folderID, err := s.folders.GalleryFolder(ctx, userID, provider, galleryID, galleryName)
	if err != nil {
		return nil, err
	}

	client, err := s.tokens.Client(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	name = models.SanitizeName(name)

	resumable := len(data) >= resumableThreshold

	var file *models.File
	if resumable {
		file, err = client.UploadFileResumable(ctx, bytes.NewReader(data), name, mimeType, int64(len(data)), folderID)
	} else {
		file, err = client.UploadFile(ctx, data, name, mimeType, folderID)
	}
	if err != nil {
		return nil, err
	}
	observability.Metrics().RecordUpload(ctx, provider, int64(len(data)), resumable)

	photo, err := models.NewPhoto(userID, galleryID, provider, file.ID, file.Name, int64(len(data)))
	if err != nil {
		return nil, err
	}
	photo.MimeType = mimeType
	photo.URL = file.URL
	if strings.HasPrefix(mimeType, "image/") {
		photo.DateTaken = s.exif.DateTaken(data)
	}

	if err := s.photos.Add(ctx, photo); err != nil {
		return nil, err
	}
	s.cache.Delete(galleryListKey(galleryID))

	s.audit.Record(ctx, models.AuditFileUpload, "photo", photo.ID, map[string]string{
		"provider":   provider,
		"gallery_id": galleryID,
		"name":       photo.Name,
	})

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"provider":   provider,
		"gallery_id": galleryID,
		"size":       len(data),
	}).Info("File uploaded")

	return photo, nil
}

// FileURL fetches a fresh view URL for a photo from its provider
func (s *UploadService) FileURL(ctx context.Context, userID, photoID string) (string, error) {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return "", err
	}
	if photo == nil || photo.UserID != userID || photo.IsDeleted() {
		return "", &models.NotFoundError{Resource: "photo", ID: photoID}
	}

	if url, ok := s.cache.Get(photoURLKey(photo.ProviderFileID)); ok {
		return url, nil
	}

	if err := s.limiter.Allow(userID, photo.Provider, OpFileGet); err != nil {
		return "", err
	}

	client, err := s.tokens.Client(ctx, userID, photo.Provider)
	if err != nil {
		return "", err
	}

	url, err := client.GetFileURL(ctx, photo.ProviderFileID)
	if err != nil {
		return "", err
	}
	s.cache.Set(photoURLKey(photo.ProviderFileID), url)
	return url, nil
}

// Delete removes a photo's file at the provider and soft-deletes the
// catalog row. Deletion is a priority operation and is never held back
// by an exhausted quota.
func (s *UploadService) Delete(ctx context.Context, userID, provider, photoID string) error {
	photo, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		return err
	}
	if photo == nil || photo.UserID != userID || photo.IsDeleted() {
		return &models.NotFoundError{Resource: "photo", ID: photoID}
	}

	if err := s.limiter.Allow(userID, provider, OpFileDelete); err != nil {
		return err
	}

	client, err := s.tokens.Client(ctx, userID, provider)
	if err != nil {
		return err
	}

	err = client.DeleteFile(ctx, photo.ProviderFileID)
	if err != nil {
		var notFound *models.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Already gone remotely; still drop it from the catalog
	}

	if _, err := s.photos.SoftDelete(ctx, userID, provider, photo.ProviderFileID, time.Now().UTC()); err != nil {
		return err
	}
	s.cache.Delete(photoURLKey(photo.ProviderFileID))
	s.cache.Delete(galleryListKey(photo.GalleryID))

	s.audit.Record(ctx, models.AuditFileDelete, "photo", photo.ID, map[string]string{
		"provider": provider,
		"name":     photo.Name,
	})
	return nil
}
