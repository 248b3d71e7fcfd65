package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// PhotoRepositoryPostgres handles photo catalog persistence for PostgreSQL
type PhotoRepositoryPostgres struct {
	db *sql.DB
}

// NewPhotoRepositoryPostgres creates a new PhotoRepositoryPostgres
func NewPhotoRepositoryPostgres(db *sql.DB) *PhotoRepositoryPostgres {
	return &PhotoRepositoryPostgres{db: db}
}

// GetByID retrieves a photo by its ID
func (r *PhotoRepositoryPostgres) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`

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
func (r *PhotoRepositoryPostgres) GetByProviderFileID(ctx context.Context, userID, provider, fileID string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos
		WHERE user_id = $1 AND provider = $2 AND provider_file_id = $3`

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
func (r *PhotoRepositoryPostgres) Add(ctx context.Context, photo *models.Photo) error {
	query := `INSERT INTO photos (` + photoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

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

// SoftDelete marks a photo deleted without removing the row
func (r *PhotoRepositoryPostgres) SoftDelete(ctx context.Context, userID, provider, fileID string, deletedAt time.Time) (bool, error) {
	query := `UPDATE photos SET deleted_at = $1
		WHERE user_id = $2 AND provider = $3 AND provider_file_id = $4 AND deleted_at IS NULL`

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
func (r *PhotoRepositoryPostgres) UpdateName(ctx context.Context, userID, provider, fileID, name string) (bool, error) {
	query := `UPDATE photos SET name = $1
		WHERE user_id = $2 AND provider = $3 AND provider_file_id = $4 AND deleted_at IS NULL`

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
func (r *PhotoRepositoryPostgres) UpdateGallery(ctx context.Context, userID, provider, fileID, galleryID string) (bool, error) {
	query := `UPDATE photos SET gallery_id = $1
		WHERE user_id = $2 AND provider = $3 AND provider_file_id = $4 AND deleted_at IS NULL`

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
