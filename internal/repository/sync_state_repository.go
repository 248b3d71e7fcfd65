package repository

import (
	"context"
	"database/sql"

	"github.com/photosync/cloudsync/internal/models"
)

// SyncStateRepository handles sync cursor persistence for SQLite
type SyncStateRepository struct {
	db *sql.DB
}

// NewSyncStateRepository creates a new SyncStateRepository
func NewSyncStateRepository(db *sql.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get retrieves sync state for a (user, provider) pair
func (r *SyncStateRepository) Get(ctx context.Context, userID, provider string) (*models.SyncState, error) {
	query := `SELECT user_id, provider, last_sync_token, last_sync_at
		FROM sync_state WHERE user_id = ? AND provider = ?`

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

// Upsert creates or updates sync state. Callers only invoke this after a
// batch has been fully applied; the write is the cursor commit point.
func (r *SyncStateRepository) Upsert(ctx context.Context, state *models.SyncState) error {
	query := `INSERT INTO sync_state (user_id, provider, last_sync_token, last_sync_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			last_sync_token = excluded.last_sync_token,
			last_sync_at = excluded.last_sync_at`

	_, err := r.db.ExecContext(ctx, query,
		state.UserID,
		state.Provider,
		nullString(state.LastSyncToken),
		state.LastSyncAt,
	)
	return err
}
