package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Photo is a catalog record for a file that physically lives in a user's
// cloud storage account. The sync core mutates only Name and DeletedAt; it
// does not own photo creation beyond the upload path.
type Photo struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	GalleryID      string     `json:"galleryId"`
	Provider       string     `json:"provider"`
	ProviderFileID string     `json:"providerFileId"`
	Name           string     `json:"name"`
	MimeType       string     `json:"mimeType,omitempty"`
	FileSize       int64      `json:"fileSize"`
	URL            string     `json:"url,omitempty"`
	DateTaken      *time.Time `json:"dateTaken,omitempty"`
	UploadedAt     time.Time  `json:"uploadedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// NewPhoto creates a new Photo with validation and name sanitization
func NewPhoto(userID, galleryID, provider, providerFileID, name string, fileSize int64) (*Photo, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyPhotoUser
	}
	if strings.TrimSpace(galleryID) == "" {
		return nil, ErrEmptyGalleryID
	}
	if strings.TrimSpace(providerFileID) == "" {
		return nil, ErrEmptyProviderFileID
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyPhotoName
	}
	if fileSize <= 0 {
		return nil, ErrInvalidFileSize
	}

	return &Photo{
		ID:             uuid.New().String(),
		UserID:         userID,
		GalleryID:      galleryID,
		Provider:       provider,
		ProviderFileID: providerFileID,
		Name:           SanitizeName(name),
		FileSize:       fileSize,
		UploadedAt:     time.Now().UTC(),
	}, nil
}

// IsDeleted reports whether the photo has been soft-deleted
func (p *Photo) IsDeleted() bool {
	return p.DeletedAt != nil
}

// SanitizeName removes path components and invalid characters from a
// display name
func SanitizeName(name string) string {
	base := filepath.Base(name)

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)

	return replacer.Replace(base)
}

// Errors
type PhotoError struct {
	Message string
}

func (e PhotoError) Error() string {
	return e.Message
}

var (
	ErrEmptyPhotoUser      = PhotoError{"user id cannot be empty"}
	ErrEmptyGalleryID      = PhotoError{"gallery id cannot be empty"}
	ErrEmptyProviderFileID = PhotoError{"provider file id cannot be empty"}
	ErrEmptyPhotoName      = PhotoError{"photo name cannot be empty"}
	ErrInvalidFileSize     = PhotoError{"file size must be positive"}
	ErrPhotoNotFound       = PhotoError{"photo not found"}
)
