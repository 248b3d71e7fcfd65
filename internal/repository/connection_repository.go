package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// ConnectionRepository handles storage connection persistence for SQLite
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new ConnectionRepository
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, provider, access_token, refresh_token, expires_at, status, last_error, last_error_at, created_at, updated_at`

func scanConnection(row interface{ Scan(...interface{}) error }) (*models.StorageConnection, error) {
	var conn models.StorageConnection
	var refreshToken sql.NullString
	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Provider,
		&conn.AccessToken,
		&refreshToken,
		&conn.ExpiresAt,
		&conn.Status,
		&conn.LastError,
		&conn.LastErrorAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conn.RefreshToken = refreshToken.String
	return &conn, nil
}

// Get retrieves the connection for a (user, provider) pair
func (r *ConnectionRepository) Get(ctx context.Context, userID, provider string) (*models.StorageConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM storage_connections WHERE user_id = ? AND provider = ?`

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
func (r *ConnectionRepository) GetAllActive(ctx context.Context) ([]*models.StorageConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM storage_connections WHERE status = ? ORDER BY user_id, provider`

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
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *models.StorageConnection) error {
	query := `INSERT INTO storage_connections (` + connectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			status = excluded.status,
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at,
			updated_at = excluded.updated_at`

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
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `UPDATE storage_connections
		SET access_token = ?, refresh_token = ?, expires_at = ?, status = ?,
			last_error = NULL, last_error_at = NULL, updated_at = ?
		WHERE user_id = ? AND provider = ?`

	_, err := r.db.ExecContext(ctx, query,
		accessToken, nullString(refreshToken), expiresAt, models.ConnectionActive,
		time.Now().UTC(), userID, provider,
	)
	return err
}

// SetStatus transitions the connection state, recording the error if any
func (r *ConnectionRepository) SetStatus(ctx context.Context, userID, provider string, status models.ConnectionStatus, lastError string) error {
	now := time.Now().UTC()
	if lastError == "" {
		query := `UPDATE storage_connections SET status = ?, updated_at = ? WHERE user_id = ? AND provider = ?`
		_, err := r.db.ExecContext(ctx, query, status, now, userID, provider)
		return err
	}

	query := `UPDATE storage_connections
		SET status = ?, last_error = ?, last_error_at = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?`
	_, err := r.db.ExecContext(ctx, query, status, lastError, now, now, userID, provider)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
