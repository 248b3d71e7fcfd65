package services

import (
	"context"
	"database/sql"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/provider"
	"github.com/photosync/cloudsync/internal/repository"
)

// fakeProvider is a StorageProvider test double with injectable behavior
type fakeProvider struct {
	resumableCalls int32

	createFolderFn func(ctx context.Context, name, parentID string) (*models.Folder, error)
	listFoldersFn  func(ctx context.Context, parentID string) ([]*models.Folder, error)
	uploadFileFn   func(ctx context.Context, data []byte, name, mimeType, parentID string) (*models.File, error)
	getFileFn      func(ctx context.Context, fileID string) (*models.File, error)
	deleteFileFn   func(ctx context.Context, fileID string) error
	getFileURLFn   func(ctx context.Context, fileID string) (string, error)
	refreshFn      func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error)
	getChangesFn   func(ctx context.Context, pageToken string) (*models.ChangeList, error)
}

func (f *fakeProvider) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	if f.createFolderFn != nil {
		return f.createFolderFn(ctx, name, parentID)
	}
	return &models.Folder{ID: "folder-" + name, Name: name, ParentID: parentID}, nil
}

func (f *fakeProvider) ListFolders(ctx context.Context, parentID string) ([]*models.Folder, error) {
	if f.listFoldersFn != nil {
		return f.listFoldersFn(ctx, parentID)
	}
	return nil, nil
}

func (f *fakeProvider) UploadFile(ctx context.Context, data []byte, name, mimeType, parentID string) (*models.File, error) {
	if f.uploadFileFn != nil {
		return f.uploadFileFn(ctx, data, name, mimeType, parentID)
	}
	return &models.File{ID: "file-" + name, Name: name, MimeType: mimeType, ParentID: parentID, Size: int64(len(data)), URL: "https://example.com/file-" + name}, nil
}

func (f *fakeProvider) UploadFileResumable(ctx context.Context, r io.Reader, name, mimeType string, size int64, parentID string) (*models.File, error) {
	atomic.AddInt32(&f.resumableCalls, 1)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return f.UploadFile(ctx, data, name, mimeType, parentID)
}

func (f *fakeProvider) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	if f.getFileFn != nil {
		return f.getFileFn(ctx, fileID)
	}
	return &models.File{ID: fileID}, nil
}

func (f *fakeProvider) DeleteFile(ctx context.Context, fileID string) error {
	if f.deleteFileFn != nil {
		return f.deleteFileFn(ctx, fileID)
	}
	return nil
}

func (f *fakeProvider) GetFileURL(ctx context.Context, fileID string) (string, error) {
	if f.getFileURLFn != nil {
		return f.getFileURLFn(ctx, fileID)
	}
	return "https://example.com/" + fileID, nil
}

func (f *fakeProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return &provider.TokenRefresh{AccessToken: "refreshed-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) GetChanges(ctx context.Context, pageToken string) (*models.ChangeList, error) {
	if f.getChangesFn != nil {
		return f.getChangesFn(ctx, pageToken)
	}
	return &models.ChangeList{NextPageToken: pageToken}, nil
}

// fakeRegistry returns the same provider double for every name
type fakeRegistry struct {
	client *fakeProvider
}

func (r *fakeRegistry) Client(name, accessToken string) (provider.StorageProvider, error) {
	if !models.IsValidProvider(name) {
		return nil, &models.UnsupportedProviderError{Provider: name}
	}
	return r.client, nil
}

// newServiceDB opens an in-memory database with the schema applied.
// Single connection: a pooled :memory: database would lose the schema.
func newServiceDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
