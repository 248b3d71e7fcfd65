package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/cryptox"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/repository"
)

type folderManagerFixture struct {
	fm       *FolderManager
	provider *fakeProvider
	mappings *repository.FolderMappingRepository
}

func newFolderManagerFixture(t *testing.T) *folderManagerFixture {
	t.Helper()

	db := newServiceDB(t)
	connections := repository.NewConnectionRepository(db)
	rootFolders := repository.NewRootFolderRepository(db)
	mappings := repository.NewFolderMappingRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	cipher, err := cryptox.New("test-passphrase", "test-salt")
	require.NoError(t, err)

	limiter := NewRateLimiter(config.Default())
	t.Cleanup(limiter.Stop)

	fake := &fakeProvider{}
	tm := NewTokenManager(connections, &fakeRegistry{client: fake}, cipher, limiter, NewAuditService(auditRepo))

	_, err = tm.Connect(context.Background(), "user-1", models.ProviderGoogleDrive, "access", "refresh", time.Now().Add(time.Hour))
	require.NoError(t, err)

	fm := NewFolderManager(rootFolders, mappings, tm, limiter)
	t.Cleanup(fm.Close)

	return &folderManagerFixture{fm: fm, provider: fake, mappings: mappings}
}

func TestFolderManagerRootFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates root once then reuses it", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		var createCalls int32
		fx.provider.createFolderFn = func(ctx context.Context, name, parentID string) (*models.Folder, error) {
			atomic.AddInt32(&createCalls, 1)
			assert.Equal(t, RootFolderName, name)
			assert.Equal(t, "", parentID)
			return &models.Folder{ID: "root-id", Name: name}, nil
		}

		first, err := fx.fm.RootFolder(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, "root-id", first)

		second, err := fx.fm.RootFolder(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), atomic.LoadInt32(&createCalls))
	})
}

func TestFolderManagerGalleryFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates gallery folder under root", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		fx.provider.createFolderFn = func(ctx context.Context, name, parentID string) (*models.Folder, error) {
			if name == RootFolderName {
				return &models.Folder{ID: "root-id", Name: name}, nil
			}
			assert.Equal(t, "root-id", parentID)
			return &models.Folder{ID: "gallery-folder-id", Name: name, ParentID: parentID}, nil
		}

		folderID, err := fx.fm.GalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-1", "Summer Trip")
		require.NoError(t, err)
		assert.Equal(t, "gallery-folder-id", folderID)

		mapping, err := fx.mappings.Get(ctx, "gal-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		require.NotNil(t, mapping)
		assert.Equal(t, "gallery-folder-id", mapping.ProviderFolderID)
		assert.Equal(t, "root-id", mapping.ParentFolderID)
	})

	t.Run("repeated calls return the mapped folder", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		var createCalls int32
		fx.provider.createFolderFn = func(ctx context.Context, name, parentID string) (*models.Folder, error) {
			atomic.AddInt32(&createCalls, 1)
			return &models.Folder{ID: "folder-" + name, Name: name}, nil
		}

		first, err := fx.fm.GalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-1", "Trip")
		require.NoError(t, err)

		// Even with a cold cache the stored mapping is authoritative
		fx.fm.cache.Clear()
		second, err := fx.fm.GalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-1", "Trip")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(2), atomic.LoadInt32(&createCalls)) // root + gallery
	})

	t.Run("folder names are sanitized", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		var gotName string
		fx.provider.createFolderFn = func(ctx context.Context, name, parentID string) (*models.Folder, error) {
			if name != RootFolderName {
				gotName = name
			}
			return &models.Folder{ID: "folder-x", Name: name}, nil
		}

		_, err := fx.fm.GalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-1", "Trip/2026: photos")
		require.NoError(t, err)
		assert.NotContains(t, gotName, "/")
		assert.NotContains(t, gotName, ":")
	})
}

func TestFolderManagerSubGalleryFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("nests under the parent gallery folder", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		fx.provider.createFolderFn = func(ctx context.Context, name, parentID string) (*models.Folder, error) {
			return &models.Folder{ID: "folder-" + name, Name: name, ParentID: parentID}, nil
		}

		_, err := fx.fm.GalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-parent", "Trips")
		require.NoError(t, err)

		subID, err := fx.fm.SubGalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-child", "Rome", "gal-parent")
		require.NoError(t, err)
		assert.Equal(t, "folder-Rome", subID)

		mapping, err := fx.mappings.Get(ctx, "gal-child", models.ProviderGoogleDrive)
		require.NoError(t, err)
		require.NotNil(t, mapping)
		assert.Equal(t, "folder-Trips", mapping.ParentFolderID)
	})

	t.Run("missing parent mapping is an error", func(t *testing.T) {
		fx := newFolderManagerFixture(t)

		_, err := fx.fm.SubGalleryFolder(ctx, "user-1", models.ProviderGoogleDrive, "gal-child", "Rome", "gal-unknown")
		var notFound *models.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "gal-unknown", notFound.ID)
	})
}
