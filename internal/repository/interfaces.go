package repository

import (
	"context"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

// ConnectionRepo defines persistence for storage connections
type ConnectionRepo interface {
	Get(ctx context.Context, userID, provider string) (*models.StorageConnection, error)
	GetAllActive(ctx context.Context) ([]*models.StorageConnection, error)
	Upsert(ctx context.Context, conn *models.StorageConnection) error
	UpdateTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiresAt time.Time) error
	SetStatus(ctx context.Context, userID, provider string, status models.ConnectionStatus, lastError string) error
}

// RootFolderRepo defines persistence for per-user provider root folders
type RootFolderRepo interface {
	Get(ctx context.Context, userID, provider string) (*models.RootFolder, error)
	Upsert(ctx context.Context, folder *models.RootFolder) error
}

// FolderMappingRepo defines persistence for gallery folder mappings
type FolderMappingRepo interface {
	Get(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error)
	GetByFolderID(ctx context.Context, providerFolderID, provider string) (*models.FolderMapping, error)
	Upsert(ctx context.Context, mapping *models.FolderMapping) error
	UpdateParent(ctx context.Context, galleryID, provider, parentFolderID string) error
}

// SyncStateRepo defines persistence for per-user sync cursors
type SyncStateRepo interface {
	Get(ctx context.Context, userID, provider string) (*models.SyncState, error)
	Upsert(ctx context.Context, state *models.SyncState) error
}

// PhotoRepo defines the catalog operations the sync core performs
type PhotoRepo interface {
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	GetByProviderFileID(ctx context.Context, userID, provider, fileID string) (*models.Photo, error)
	Add(ctx context.Context, photo *models.Photo) error
	SoftDelete(ctx context.Context, userID, provider, fileID string, deletedAt time.Time) (bool, error)
	UpdateName(ctx context.Context, userID, provider, fileID, name string) (bool, error)
	UpdateGallery(ctx context.Context, userID, provider, fileID, galleryID string) (bool, error)
}

// AuditLogRepo defines the audit sink's persistence
type AuditLogRepo interface {
	Add(ctx context.Context, entry *models.AuditEntry) error
}
