package repository

import (
	"context"
	"database/sql"

	"github.com/photosync/cloudsync/internal/models"
)

// RootFolderRepositoryPostgres handles root folder persistence for PostgreSQL
type RootFolderRepositoryPostgres struct {
	db *sql.DB
}

// NewRootFolderRepositoryPostgres creates a new RootFolderRepositoryPostgres
func NewRootFolderRepositoryPostgres(db *sql.DB) *RootFolderRepositoryPostgres {
	return &RootFolderRepositoryPostgres{db: db}
}

// Get retrieves the root folder for a (user, provider) pair
func (r *RootFolderRepositoryPostgres) Get(ctx context.Context, userID, provider string) (*models.RootFolder, error) {
	query := `SELECT user_id, provider, provider_folder_id, created_at
		FROM root_folders WHERE user_id = $1 AND provider = $2`

	var folder models.RootFolder
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&folder.UserID,
		&folder.Provider,
		&folder.ProviderFolderID,
		&folder.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// Upsert persists the root folder, keeping the first writer's id on conflict
func (r *RootFolderRepositoryPostgres) Upsert(ctx context.Context, folder *models.RootFolder) error {
	query := `INSERT INTO root_folders (user_id, provider, provider_folder_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		folder.UserID,
		folder.Provider,
		folder.ProviderFolderID,
		folder.CreatedAt,
	)
	return err
}
