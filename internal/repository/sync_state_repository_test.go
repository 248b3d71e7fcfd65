package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := NewSQLiteDB(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSyncStateRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns nil for unknown user", func(t *testing.T) {
		repo := NewSyncStateRepository(setupTestDB(t))

		state, err := repo.Get(ctx, "nobody", models.ProviderDropbox)
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("upsert then get round-trips the cursor", func(t *testing.T) {
		repo := NewSyncStateRepository(setupTestDB(t))
		now := time.Now().UTC().Truncate(time.Second)

		err := repo.Upsert(ctx, &models.SyncState{
			UserID:        "user-1",
			Provider:      models.ProviderGoogleDrive,
			LastSyncToken: "cursor-1",
			LastSyncAt:    &now,
		})
		require.NoError(t, err)

		state, err := repo.Get(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "cursor-1", state.LastSyncToken)

		// Second upsert advances the cursor in place
		err = repo.Upsert(ctx, &models.SyncState{
			UserID:        "user-1",
			Provider:      models.ProviderGoogleDrive,
			LastSyncToken: "cursor-2",
			LastSyncAt:    &now,
		})
		require.NoError(t, err)

		state, err = repo.Get(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, "cursor-2", state.LastSyncToken)
	})
}

func TestRootFolderRepositoryConvergence(t *testing.T) {
	ctx := context.Background()
	repo := NewRootFolderRepository(setupTestDB(t))

	// Concurrent initializations race; exactly one folder id survives and
	// every later read observes it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = repo.Upsert(ctx, &models.RootFolder{
				UserID:           "user-1",
				Provider:         models.ProviderDropbox,
				ProviderFolderID: "folder-candidate",
				CreatedAt:        time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	folder, err := repo.Get(ctx, "user-1", models.ProviderDropbox)
	require.NoError(t, err)
	require.NotNil(t, folder)
	assert.Equal(t, "folder-candidate", folder.ProviderFolderID)

	// A second writer with a different id loses to the persisted row
	err = repo.Upsert(ctx, &models.RootFolder{
		UserID:           "user-1",
		Provider:         models.ProviderDropbox,
		ProviderFolderID: "late-duplicate",
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)

	folder, err = repo.Get(ctx, "user-1", models.ProviderDropbox)
	require.NoError(t, err)
	assert.Equal(t, "folder-candidate", folder.ProviderFolderID)
}

func TestPhotoRepositorySoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewPhotoRepository(setupTestDB(t))

	photo, err := models.NewPhoto("user-1", "gallery-1", models.ProviderGoogleDrive, "file-1", "beach.jpg", 512)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, photo))

	t.Run("soft delete marks the row and keeps it", func(t *testing.T) {
		deleted, err := repo.SoftDelete(ctx, "user-1", models.ProviderGoogleDrive, "file-1", time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := repo.GetByProviderFileID(ctx, "user-1", models.ProviderGoogleDrive, "file-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.IsDeleted())
	})

	t.Run("soft delete is not repeatable", func(t *testing.T) {
		deleted, err := repo.SoftDelete(ctx, "user-1", models.ProviderGoogleDrive, "file-1", time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("rename skips deleted rows", func(t *testing.T) {
		renamed, err := repo.UpdateName(ctx, "user-1", models.ProviderGoogleDrive, "file-1", "renamed.jpg")
		require.NoError(t, err)
		assert.False(t, renamed)
	})
}
