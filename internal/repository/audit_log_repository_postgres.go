package repository

import (
	"context"
	"database/sql"

	"github.com/photosync/cloudsync/internal/models"
)

// AuditLogRepositoryPostgres handles audit log persistence for PostgreSQL
type AuditLogRepositoryPostgres struct {
	db *sql.DB
}

// NewAuditLogRepositoryPostgres creates a new AuditLogRepositoryPostgres
func NewAuditLogRepositoryPostgres(db *sql.DB) *AuditLogRepositoryPostgres {
	return &AuditLogRepositoryPostgres{db: db}
}

// Add inserts an audit entry. Metadata is stored as a JSON blob.
func (r *AuditLogRepositoryPostgres) Add(ctx context.Context, entry *models.AuditEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO audit_log (id, action, resource_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

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
