package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// ConnectionRepositoryPostgres handles storage connection persistence for PostgreSQL
type ConnectionRepositoryPostgres struct {
	db *sql.DB
}

// NewConnectionRepositoryPostgres creates a new ConnectionRepositoryPostgres
func NewConnectionRepositoryPostgres(db *sql.DB) *ConnectionRepositoryPostgres {
	return &ConnectionRepositoryPostgres{db: db}
}

// Get retrieves the connection for a (user, provider) pair
func (r *ConnectionRepositoryPostgres) Get(ctx context.Context, userID, provider string) (*models.StorageConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM storage_connections WHERE user_id = $1 AND provider = $2`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, provider))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// GetAllActive retrieves every active connection across all users
func (r *ConnectionRepositoryPostgres) GetAllActive(ctx context.Context) ([]*models.StorageConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM storage_connections WHERE status = $1 ORDER BY user_id, provider`

	rows, err := r.db.QueryContext(ctx, query, models.ConnectionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.StorageConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}

	if conns == nil {
		conns = []*models.StorageConnection{}
	}

	return conns, rows.Err()
}

// Upsert creates or replaces the connection for a (user, provider) pair
func (r *ConnectionRepositoryPostgres) Upsert(ctx context.Context, conn *models.StorageConnection) error {
	query := `INSERT INTO storage_connections (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		conn.ID,
		conn.UserID,
		conn.Provider,
		conn.AccessToken,
		nullString(conn.RefreshToken),
		conn.ExpiresAt,
		conn.Status,
		conn.LastError,
		conn.LastErrorAt,
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	return err
}

// UpdateTokens persists refreshed credentials and clears any recorded error
func (r *ConnectionRepositoryPostgres) UpdateTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `UPDATE storage_connections
		SET access_token = $1, refresh_token = $2, expires_at = $3, status = $4,
			last_error = NULL, last_error_at = NULL, updated_at = $5
		WHERE user_id = $6 AND provider = $7`

	_, err := r.db.ExecContext(ctx, query,
		accessToken, nullString(refreshToken), expiresAt, models.ConnectionActive,
		time.Now().UTC(), userID, provider,
	)
	return err
}

// SetStatus transitions the connection state, recording the error if any
func (r *ConnectionRepositoryPostgres) SetStatus(ctx context.Context, userID, provider string, status models.ConnectionStatus, lastError string) error {
	now := time.Now().UTC()
	if lastError == "" {
		query := `UPDATE storage_connections SET status = $1, updated_at = $2 WHERE user_id = $3 AND provider = $4`
		_, err := r.db.ExecContext(ctx, query, status, now, userID, provider)
		return err
	}

	query := `UPDATE storage_connections
		SET status = $1, last_error = $2, last_error_at = $3, updated_at = $4
		WHERE user_id = $5 AND provider = $6`
	_, err := r.db.ExecContext(ctx, query, status, lastError, now, now, userID, provider)
	return err
}
