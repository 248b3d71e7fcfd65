package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the sync core
const (
	AuditFileDelete       = "file_delete"
	AuditFileRename       = "file_rename"
	AuditFolderMove       = "folder_move"
	AuditSyncCompleted    = "sync_completed"
	AuditSyncFailed       = "sync_failed"
	AuditDisconnected     = "connection_disconnected"
	AuditFileUpload       = "file_upload"
	AuditConflictDetected = "conflict_detected"
)

// AuditEntry is a fire-and-forget audit record. Failures to persist an
// entry never fail the operation that produced it.
type AuditEntry struct {
	ID           string            `json:"id"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resourceType"`
	ResourceID   string            `json:"resourceId"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// NewAuditEntry creates an audit entry stamped with the current time
func NewAuditEntry(action, resourceType, resourceID string, metadata map[string]string) *AuditEntry {
	return &AuditEntry{
		ID:           uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
}
