package services

import (
	"context"

	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/repository"
)

// AuditService records catalog-changing events to the audit log
type AuditService struct {
	auditRepo repository.AuditLogRepo
}

// NewAuditService creates a new audit service
func NewAuditService(auditRepo repository.AuditLogRepo) *AuditService {
	return &AuditService{auditRepo: auditRepo}
}

// Record writes an audit entry. Failures are logged, never propagated:
// an audit miss must not fail the operation being audited.
func (s *AuditService) Record(ctx context.Context, action, resourceType, resourceID string, metadata map[string]string) {
	entry := models.NewAuditEntry(action, resourceType, resourceID, metadata)

	if err := s.auditRepo.Add(ctx, entry); err != nil {
		observability.WithContext(ctx).WithFields(map[string]interface{}{
			"action":      action,
			"resource_id": resourceID,
		}).Errorf("Failed to write audit entry: %v", err)
	}
}
