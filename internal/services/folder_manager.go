package services

import (
	"context"
	"fmt"
	"time"

	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/repository"
)

// RootFolderName is the name of the per-user application folder created
// at the provider's top level
const RootFolderName = "Photosync"

// folderCacheTTL bounds how long resolved folder IDs are served from
// memory before the database is consulted again
const folderCacheTTL = 15 * time.Minute

// FolderManager maintains the mapping between galleries and provider
// folders. All ensure operations are idempotent: re-running them
// converges on the same provider folder instead of creating duplicates.
type FolderManager struct {
	rootFolders repository.RootFolderRepo
	mappings    repository.FolderMappingRepo
	tokens      *TokenManager
	limiter     *RateLimiter
	cache       *TTLCache
}

// NewFolderManager creates a folder manager
func NewFolderManager(rootFolders repository.RootFolderRepo, mappings repository.FolderMappingRepo, tokens *TokenManager, limiter *RateLimiter) *FolderManager {
	return &FolderManager{
		rootFolders: rootFolders,
		mappings:    mappings,
		tokens:      tokens,
		limiter:     limiter,
		cache:       NewTTLCache(folderCacheTTL),
	}
}

// Close releases the manager's cache resources
func (fm *FolderManager) Close() {
	fm.cache.Stop()
}

func rootCacheKey(userID, provider string) string {
	return "root:" + userID + ":" + provider
}

func galleryCacheKey(galleryID, provider string) string {
	return "gallery:" + galleryID + ":" + provider
}

// RootFolder returns the provider folder ID of the user's application
// root, creating it remotely on first use. Concurrent callers converge
// on the first recorded folder.
func (fm *FolderManager) RootFolder(ctx context.Context, userID, provider string) (string, error) {
	if id, ok := fm.cache.Get(rootCacheKey(userID, provider)); ok {
		return id, nil
	}

	existing, err := fm.rootFolders.Get(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if existing != nil {
		fm.cache.Set(rootCacheKey(userID, provider), existing.ProviderFolderID)
		return existing.ProviderFolderID, nil
	}

	if err := fm.limiter.Allow(userID, provider, OpFolderCreate); err != nil {
		return "", err
	}

	client, err := fm.tokens.Client(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	folder, err := client.CreateFolder(ctx, RootFolderName, "")
	if err != nil {
		return "", fmt.Errorf("failed to create root folder: %w", err)
	}

	// First writer wins; losers re-read and adopt the stored folder
	err = fm.rootFolders.Upsert(ctx, &models.RootFolder{
		UserID:           userID,
		Provider:         provider,
		ProviderFolderID: folder.ID,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	stored, err := fm.rootFolders.Get(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", fmt.Errorf("root folder for %s:%s vanished after upsert", userID, provider)
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":   userID,
		"provider":  provider,
		"folder_id": stored.ProviderFolderID,
	}).Info("Root folder ready")

	fm.cache.Set(rootCacheKey(userID, provider), stored.ProviderFolderID)
	return stored.ProviderFolderID, nil
}

// GalleryFolder returns the provider folder ID mapped to a gallery,
// creating the folder under the user's root on first use
func (fm *FolderManager) GalleryFolder(ctx context.Context, userID, provider, galleryID, galleryName string) (string, error) {
	parent, err := fm.RootFolder(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	return fm.ensureMappedFolder(ctx, userID, provider, galleryID, galleryName, parent)
}

// SubGalleryFolder returns the provider folder ID mapped to a nested
// gallery, creating the folder under the parent gallery's folder. The
// parent gallery must already be mapped.
func (fm *FolderManager) SubGalleryFolder(ctx context.Context, userID, provider, galleryID, galleryName, parentGalleryID string) (string, error) {
	parentMapping, err := fm.mappings.Get(ctx, parentGalleryID, provider)
	if err != nil {
		return "", err
	}
	if parentMapping == nil {
		return "", &models.NotFoundError{Resource: "folder mapping", ID: parentGalleryID}
	}
	return fm.ensureMappedFolder(ctx, userID, provider, galleryID, galleryName, parentMapping.ProviderFolderID)
}

func (fm *FolderManager) ensureMappedFolder(ctx context.Context, userID, provider, galleryID, galleryName, parentFolderID string) (string, error) {
	if id, ok := fm.cache.Get(galleryCacheKey(galleryID, provider)); ok {
		return id, nil
	}

	mapping, err := fm.mappings.Get(ctx, galleryID, provider)
	if err != nil {
		return "", err
	}
	if mapping != nil {
		fm.cache.Set(galleryCacheKey(galleryID, provider), mapping.ProviderFolderID)
		return mapping.ProviderFolderID, nil
	}

	if err := fm.limiter.Allow(userID, provider, OpFolderCreate); err != nil {
		return "", err
	}

	client, err := fm.tokens.Client(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	folder, err := client.CreateFolder(ctx, models.SanitizeName(galleryName), parentFolderID)
	if err != nil {
		return "", fmt.Errorf("failed to create gallery folder: %w", err)
	}

	err = fm.mappings.Upsert(ctx, &models.FolderMapping{
		GalleryID:        galleryID,
		Provider:         provider,
		ProviderFolderID: folder.ID,
		ParentFolderID:   parentFolderID,
		UpdatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}

	fm.cache.Set(galleryCacheKey(galleryID, provider), folder.ID)
	return folder.ID, nil
}

// Mapping returns the stored mapping for a gallery, nil when none exists
func (fm *FolderManager) Mapping(ctx context.Context, galleryID, provider string) (*models.FolderMapping, error) {
	return fm.mappings.Get(ctx, galleryID, provider)
}

// MappingByFolderID resolves a provider folder back to its gallery
func (fm *FolderManager) MappingByFolderID(ctx context.Context, providerFolderID, provider string) (*models.FolderMapping, error) {
	return fm.mappings.GetByFolderID(ctx, providerFolderID, provider)
}

// RecordFolderParent updates a mapping's parent after a remote move
func (fm *FolderManager) RecordFolderParent(ctx context.Context, galleryID, provider, parentFolderID string) error {
	return fm.mappings.UpdateParent(ctx, galleryID, provider, parentFolderID)
}

// RecordFolderID re-points a gallery mapping at a new provider folder,
// used when the mapped folder was removed remotely and recreated
func (fm *FolderManager) RecordFolderID(ctx context.Context, mapping *models.FolderMapping) error {
	mapping.UpdatedAt = time.Now().UTC()
	if err := fm.mappings.Upsert(ctx, mapping); err != nil {
		return err
	}
	fm.cache.Set(galleryCacheKey(mapping.GalleryID, mapping.Provider), mapping.ProviderFolderID)
	return nil
}

// Invalidate drops a gallery's cached folder ID
func (fm *FolderManager) Invalidate(galleryID, provider string) {
	fm.cache.Delete(galleryCacheKey(galleryID, provider))
}
