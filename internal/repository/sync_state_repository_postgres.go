package repository

import (
	"context"
	"database/sql"

	"github.com/photosync/cloudsync/internal/models"
)

// SyncStateRepositoryPostgres handles sync cursor persistence for PostgreSQL
type SyncStateRepositoryPostgres struct {
	db *sql.DB
}

// NewSyncStateRepositoryPostgres creates a new SyncStateRepositoryPostgres
func NewSyncStateRepositoryPostgres(db *sql.DB) *SyncStateRepositoryPostgres {
	return &SyncStateRepositoryPostgres{db: db}
}

// Get retrieves sync state for a (user, provider) pair
func (r *SyncStateRepositoryPostgres) Get(ctx context.Context, userID, provider string) (*models.SyncState, error) {
	query := `SELECT user_id, provider, last_sync_token, last_sync_at
		FROM sync_state WHERE user_id = $1 AND provider = $2`

	var state models.SyncState
	var token sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID, provider).Scan(
		&state.UserID,
		&state.Provider,
		&token,
		&state.LastSyncAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.LastSyncToken = token.String
	return &state, nil
}

// Upsert creates or updates sync state; the write is the cursor commit point
func (r *SyncStateRepositoryPostgres) Upsert(ctx context.Context, state *models.SyncState) error {
	query := `INSERT INTO sync_state (user_id, provider, last_sync_token, last_sync_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			last_sync_token = EXCLUDED.last_sync_token,
			last_sync_at = EXCLUDED.last_sync_at`

	_, err := r.db.ExecContext(ctx, query,
		state.UserID,
		state.Provider,
		nullString(state.LastSyncToken),
		state.LastSyncAt,
	)
	return err
}
