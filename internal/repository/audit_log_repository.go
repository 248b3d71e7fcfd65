package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/photosync/cloudsync/internal/models"
)

// AuditLogRepository handles audit log persistence for SQLite
type AuditLogRepository struct {
	db *sql.DB
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Add inserts an audit entry. Metadata is stored as a JSON blob.
func (r *AuditLogRepository) Add(ctx context.Context, entry *models.AuditEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO audit_log (id, action, resource_type, resource_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadata,
		entry.CreatedAt,
	)
	return err
}

func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
