package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// FolderMappingRepositoryPostgres handles folder mapping persistence for PostgreSQL
type FolderMappingRepositoryPostgres struct {
	db *sql.DB
}

// NewFolderMappingRepositoryPostgres creates a new FolderMappingRepositoryPostgres
func NewFolderMappingRepositoryPostgres(db *sql.DB) *FolderMappingRepositoryPostgres {
	return &FolderMappingRepositoryPostgres{db: db}
}

// Get retrieves the mapping for a (gallery, provider) pair
func (r *FolderMappingRepositoryPostgres) Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error) {
	query := `SELECT gallery_id, provider, provider_folder_id, parent_folder_id, updated_at
		FROM folder_mappings WHERE gallery_id = $1 AND provider = $2`

	return scanFolderMapping(r.db.QueryRowContext(ctx, query, galleryID, provider))
}

// GetByFolderID retrieves the mapping owning a provider folder id
func (r *FolderMappingRepositoryPostgres) GetByFolderID(ctx context.Context, providerFolderID, provider string) (*models.FolderMapping, error) {
	query := `SELECT gallery_id, provider, provider_folder_id, parent_folder_id, updated_at
		FROM folder_mappings WHERE provider_folder_id = $1 AND provider = $2`

	return scanFolderMapping(r.db.QueryRowContext(ctx, query, providerFolderID, provider))
}

// Upsert creates or overwrites the mapping for a (gallery, provider) pair
func (r *FolderMappingRepositoryPostgres) Upsert(ctx context.Context, mapping *models.FolderMapping) error {
	query := `INSERT INTO folder_mappings (gallery_id, provider, provider_folder_id, parent_folder_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (gallery_id, provider) DO UPDATE SET
			provider_folder_id = EXCLUDED.provider_folder_id,
			parent_folder_id = EXCLUDED.parent_folder_id,
			updated_at = EXCLUDED.updated_at`

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
func (r *FolderMappingRepositoryPostgres) UpdateParent(ctx context.Context, galleryID, provider, parentFolderID string) error {
	query := `UPDATE folder_mappings SET parent_folder_id = $1, updated_at = $2
		WHERE gallery_id = $3 AND provider = $4`

	_, err := r.db.ExecContext(ctx, query, parentFolderID, time.Now().UTC(), galleryID, provider)
	return err
}
