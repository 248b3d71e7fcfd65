package repository

import (
	"context"
	"database/sql"

	"github.com/photosync/cloudsync/internal/models"
)

// RootFolderRepository handles root folder persistence for SQLite
type RootFolderRepository struct {
	db *sql.DB
}

// NewRootFolderRepository creates a new RootFolderRepository
func NewRootFolderRepository(db *sql.DB) *RootFolderRepository {
	return &RootFolderRepository{db: db}
}

// Get retrieves the root folder for a (user, provider) pair
func (r *RootFolderRepository) Get(ctx context.Context, userID, provider string) (*models.RootFolder, error) {
	query := `SELECT user_id, provider, provider_folder_id, created_at
		FROM root_folders WHERE user_id = ? AND provider = ?`

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

// Upsert persists the root folder. A concurrent initialization race
// converges on the first writer's folder id: the conflict clause keeps the
// existing row untouched.
func (r *RootFolderRepository) Upsert(ctx context.Context, folder *models.RootFolder) error {
	query := `INSERT INTO root_folders (user_id, provider, provider_folder_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		folder.UserID,
		folder.Provider,
		folder.ProviderFolderID,
		folder.CreatedAt,
	)
	return err
}
