package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// PhotoRepository handles photo catalog persistence for SQLite
type PhotoRepository struct {
	db *sql.DB
}

// NewPhotoRepository creates a new PhotoRepository
func NewPhotoRepository(db *sql.DB) *PhotoRepository {
	return &PhotoRepository{db: db}
}

const photoColumns = `id, user_id, gallery_id, provider, provider_file_id, name, mime_type, file_size, url, date_taken, uploaded_at, deleted_at`

func scanPhoto(row interface{ Scan(...interface{}) error }) (*models.Photo, error) {
	var photo models.Photo
	var mimeType, url sql.NullString
	err := row.Scan(
		&photo.ID,
		&photo.UserID,
		&photo.GalleryID,
		&photo.Provider,
		&photo.ProviderFileID,
		&photo.Name,
		&mimeType,
		&photo.FileSize,
		&url,
		&photo.DateTaken,
		&photo.UploadedAt,
		&photo.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	photo.MimeType = mimeType.String
	photo.URL = url.String
	return &photo, nil
}

// GetByID retrieves a photo by its ID
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = ?`

	photo, err := scanPhoto(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return photo, nil
}

// GetByProviderFileID retrieves a photo by its provider file id, scoped to
// the owning user's records
func (r *PhotoRepository) GetByProviderFileID(ctx context.Context, userID, provider, fileID string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos
		WHERE user_id = ? AND provider = ? AND provider_file_id = ?`

	photo, err := scanPhoto(r.db.QueryRowContext(ctx, query, userID, provider, fileID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return photo, nil
}

// Add inserts a new photo
func (r *PhotoRepository) Add(ctx context.Context, photo *models.Photo) error {
	query := `INSERT INTO photos (` + photoColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		photo.ID,
		photo.UserID,
		photo.GalleryID,
		photo.Provider,
		photo.ProviderFileID,
		photo.Name,
		nullString(photo.MimeType),
		photo.FileSize,
		nullString(photo.URL),
		photo.DateTaken,
		photo.UploadedAt,
		photo.DeletedAt,
	)
	return err
}

// SoftDelete marks a photo deleted without removing the row. Returns false
// when no live photo matched.
func (r *PhotoRepository) SoftDelete(ctx context.Context, userID, provider, fileID string, deletedAt time.Time) (bool, error) {
	query := `UPDATE photos SET deleted_at = ?
		WHERE user_id = ? AND provider = ? AND provider_file_id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, deletedAt, userID, provider, fileID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateName updates a photo's display name after a remote rename
func (r *PhotoRepository) UpdateName(ctx context.Context, userID, provider, fileID, name string) (bool, error) {
	query := `UPDATE photos SET name = ?
		WHERE user_id = ? AND provider = ? AND provider_file_id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, models.SanitizeName(name), userID, provider, fileID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateGallery re-homes a photo after its file moved between mapped
// folders remotely
func (r *PhotoRepository) UpdateGallery(ctx context.Context, userID, provider, fileID, galleryID string) (bool, error) {
	query := `UPDATE photos SET gallery_id = ?
		WHERE user_id = ? AND provider = ? AND provider_file_id = ? AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, galleryID, userID, provider, fileID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
