package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// FolderMappingRepository handles folder mapping persistence for SQLite
type FolderMappingRepository struct {
	db *sql.DB
}

// NewFolderMappingRepository creates a new FolderMappingRepository
func NewFolderMappingRepository(db *sql.DB) *FolderMappingRepository {
	return &FolderMappingRepository{db: db}
}

// Get retrieves the mapping for a (gallery, provider) pair
func (r *FolderMappingRepository) Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error) {
	query := `SELECT gallery_id, provider, provider_folder_id, parent_folder_id, updated_at
		FROM folder_mappings WHERE gallery_id = ? AND provider = ?`

	return scanFolderMapping(r.db.QueryRowContext(ctx, query, galleryID, provider))
}

// GetByFolderID retrieves the mapping owning a provider folder id
func (r *FolderMappingRepository) GetByFolderID(ctx context.Context, providerFolderID, provider string) (*models.FolderMapping, error) {
	query := `SELECT gallery_id, provider, provider_folder_id, parent_folder_id, updated_at
		FROM folder_mappings WHERE provider_folder_id = ? AND provider = ?`

	return scanFolderMapping(r.db.QueryRowContext(ctx, query, providerFolderID, provider))
}

// Upsert creates or overwrites the mapping for a (gallery, provider) pair.
// A later call with the same gallery id replaces the folder id rather than
// duplicating the mapping.
func (r *FolderMappingRepository) Upsert(ctx context.Context, mapping *models.FolderMapping) error {
	query := `INSERT INTO folder_mappings (gallery_id, provider, provider_folder_id, parent_folder_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (gallery_id, provider) DO UPDATE SET
			provider_folder_id = excluded.provider_folder_id,
			parent_folder_id = excluded.parent_folder_id,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		mapping.GalleryID,
		mapping.Provider,
		mapping.ProviderFolderID,
		mapping.ParentFolderID,
		mapping.UpdatedAt,
	)
	return err
}

// UpdateParent re-parents a mapping after the remote folder moved
func (r *FolderMappingRepository) UpdateParent(ctx context.Context, galleryID, provider, parentFolderID string) error {
	query := `UPDATE folder_mappings SET parent_folder_id = ?, updated_at = ?
		WHERE gallery_id = ? AND provider = ?`

	_, err := r.db.ExecContext(ctx, query, parentFolderID, time.Now().UTC(), galleryID, provider)
	return err
}

func scanFolderMapping(row interface{ Scan(...interface{}) error }) (*models.FolderMapping, error) {
	var mapping models.FolderMapping
	err := row.Scan(
		&mapping.GalleryID,
		&mapping.Provider,
		&mapping.ProviderFolderID,
		&mapping.ParentFolderID,
		&mapping.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}
