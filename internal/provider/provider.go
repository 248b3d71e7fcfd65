// Package provider implements the storage capability interface over
// third-party cloud backends. Adapters normalize provider faults into the
// shared error taxonomy at this boundary so callers never inspect
// provider-specific error shapes.
package provider

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
)

// StorageProvider is the capability interface over one cloud backend,
// bound to a single user's access credential.
type StorageProvider interface {
	// CreateFolder is idempotent in effect: if a folder with the name
	// already exists under the parent, the existing folder is returned.
	CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error)
	ListFolders(ctx context.Context, parentID string) ([]*models.Folder, error)

	// UploadFile is single-shot for small payloads. The returned URL is
	// durably retrievable; shared-link bookkeeping is internal.
	UploadFile(ctx context.Context, data []byte, name, mimeType, parentID string) (*models.File, error)
	// UploadFileResumable uploads in chunks; a partially committed file is
	// never visible to readers before the final chunk commits.
	UploadFileResumable(ctx context.Context, r io.Reader, name, mimeType string, size int64, parentID string) (*models.File, error)

	GetFile(ctx context.Context, fileID string) (*models.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	GetFileURL(ctx context.Context, fileID string) (string, error)

	// RefreshAccessToken fails with AuthError when the refresh credential
	// itself is invalid or revoked.
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefresh, error)

	// GetChanges returns one page of the change feed. With an empty page
	// token it establishes a fresh start-of-history cursor instead of
	// replaying the full history.
	GetChanges(ctx context.Context, pageToken string) (*models.ChangeList, error)
}

// TokenRefresh is the result of a credential refresh
type TokenRefresh struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresAt    time.Time
}

// Factory builds a provider client bound to an access token
type Factory func(oauth config.OAuthClient, accessToken string, httpClient *http.Client) StorageProvider

// Registry dispatches provider identifiers to registered factories,
// extensible without touching call sites
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	oauth     map[string]config.OAuthClient
	client    *http.Client
}

// NewRegistry creates a registry with the built-in adapters registered
func NewRegistry(oauth map[string]config.OAuthClient) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		oauth:     oauth,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	r.Register(models.ProviderGoogleDrive, NewGoogleDrive)
	r.Register(models.ProviderDropbox, NewDropbox)
	return r
}

// Register adds or replaces the factory for a provider identifier
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Client builds a provider client for the identifier, bound to the access
// token. Returns UnsupportedProviderError for unknown identifiers.
func (r *Registry) Client(name, accessToken string) (StorageProvider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &models.UnsupportedProviderError{Provider: name}
	}
	return factory(r.oauth[name], accessToken, r.client), nil
}
