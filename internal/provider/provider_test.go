package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(map[string]config.OAuthClient{
		models.ProviderGoogleDrive: {ClientID: "id", ClientSecret: "secret"},
		models.ProviderDropbox:     {ClientID: "id", ClientSecret: "secret"},
	})

	t.Run("known providers resolve", func(t *testing.T) {
		drive, err := registry.Client(models.ProviderGoogleDrive, "token")
		require.NoError(t, err)
		assert.NotNil(t, drive)

		dropbox, err := registry.Client(models.ProviderDropbox, "token")
		require.NoError(t, err)
		assert.NotNil(t, dropbox)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := registry.Client("onedrive", "token")
		var unsupported *models.UnsupportedProviderError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "onedrive", unsupported.Provider)
	})
}

func TestWithRetry(t *testing.T) {
	t.Run("transient fault retried until success", func(t *testing.T) {
		var calls int32
		got, err := withRetry(context.Background(), func() (string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return "", &models.TransientProviderError{Provider: models.ProviderGoogleDrive, Err: errors.New("503")}
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("rate limit fault propagated without retry", func(t *testing.T) {
		var calls int32
		_, err := withRetry(context.Background(), func() (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", &models.BackoffError{Provider: models.ProviderDropbox, RetryAfter: time.Minute}
		})
		var backoffErr *models.BackoffError
		require.ErrorAs(t, err, &backoffErr)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("auth fault propagated without retry", func(t *testing.T) {
		var calls int32
		_, err := withRetry(context.Background(), func() (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", &models.AuthError{Provider: models.ProviderGoogleDrive, Message: "expired"}
		})
		var authErr *models.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls int32
		_, err := withRetry(context.Background(), func() (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", &models.TransientProviderError{Provider: models.ProviderGoogleDrive, Err: errors.New("503")}
		})
		require.Error(t, err)
		assert.Equal(t, int32(maxRetryAttempts), atomic.LoadInt32(&calls))
	})
}

func newDriveTestClient(server *httptest.Server) *GoogleDrive {
	client := NewGoogleDrive(config.OAuthClient{ClientID: "id", ClientSecret: "secret"}, "token", server.Client()).(*GoogleDrive)
	client.baseURL = server.URL
	client.uploadURL = server.URL + "/upload"
	client.tokenURL = server.URL + "/token"
	return client
}

func TestGoogleDriveCreateFolder(t *testing.T) {
	t.Run("reuses existing folder with same name", func(t *testing.T) {
		var createCalls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/files":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"files": []map[string]interface{}{
						{"id": "existing-id", "name": "Photosync", "mimeType": "application/vnd.google-apps.folder"},
					},
				})
			case r.Method == http.MethodPost && r.URL.Path == "/files":
				atomic.AddInt32(&createCalls, 1)
				w.WriteHeader(http.StatusInternalServerError)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		folder, err := newDriveTestClient(server).CreateFolder(context.Background(), "Photosync", "")
		require.NoError(t, err)
		assert.Equal(t, "existing-id", folder.ID)
		assert.Equal(t, int32(0), atomic.LoadInt32(&createCalls))
	})

	t.Run("creates when absent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/files":
				json.NewEncoder(w).Encode(map[string]interface{}{"files": []interface{}{}})
			case r.Method == http.MethodPost && r.URL.Path == "/files":
				var body map[string]interface{}
				json.NewDecoder(r.Body).Decode(&body)
				assert.Equal(t, "Trip", body["name"])
				json.NewEncoder(w).Encode(map[string]interface{}{
					"id": "new-id", "name": "Trip",
					"mimeType": "application/vnd.google-apps.folder",
					"parents":  []string{"root-id"},
				})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		folder, err := newDriveTestClient(server).CreateFolder(context.Background(), "Trip", "root-id")
		require.NoError(t, err)
		assert.Equal(t, "new-id", folder.ID)
		assert.Equal(t, "root-id", folder.ParentID)
	})
}

func TestGoogleDriveGetChanges(t *testing.T) {
	t.Run("empty token establishes cursor without changes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/changes/startPageToken", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"startPageToken": "cursor-1"})
		}))
		defer server.Close()

		list, err := newDriveTestClient(server).GetChanges(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, list.Changes)
		assert.Equal(t, "cursor-1", list.NextPageToken)
	})

	t.Run("removed and trashed entries map to deletions", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/changes", r.URL.Path)
			assert.Equal(t, "cursor-1", r.URL.Query().Get("pageToken"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"changes": []map[string]interface{}{
					{"fileId": "gone", "removed": true},
					{"fileId": "trashed", "file": map[string]interface{}{
						"id": "trashed", "name": "old.jpg", "trashed": true,
					}},
					{"fileId": "kept", "file": map[string]interface{}{
						"id": "kept", "name": "new.jpg", "mimeType": "image/jpeg",
						"parents": []string{"folder-id"},
					}},
				},
				"newStartPageToken": "cursor-2",
			})
		}))
		defer server.Close()

		list, err := newDriveTestClient(server).GetChanges(context.Background(), "cursor-1")
		require.NoError(t, err)
		require.Len(t, list.Changes, 3)
		assert.Equal(t, models.ChangeDeleted, list.Changes[0].Type)
		assert.Equal(t, models.ChangeDeleted, list.Changes[1].Type)
		assert.Equal(t, models.ChangeModified, list.Changes[2].Type)
		assert.Equal(t, "folder-id", list.Changes[2].ParentID)
		assert.Equal(t, "cursor-2", list.NextPageToken)
	})
}

func TestGoogleDriveErrorClassification(t *testing.T) {
	t.Run("429 maps to backoff with retry-after", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := newDriveTestClient(server).GetFile(context.Background(), "f1")
		var backoffErr *models.BackoffError
		require.ErrorAs(t, err, &backoffErr)
		assert.Equal(t, 120*time.Second, backoffErr.RetryAfter)
	})

	t.Run("401 maps to auth error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, err := newDriveTestClient(server).GetFile(context.Background(), "f1")
		var authErr *models.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, models.ProviderGoogleDrive, authErr.Provider)
	})
}

func newDropboxTestClient(server *httptest.Server) *Dropbox {
	client := NewDropbox(config.OAuthClient{ClientID: "id", ClientSecret: "secret"}, "token", server.Client()).(*Dropbox)
	client.apiURL = server.URL
	client.contentURL = server.URL + "/content"
	client.tokenURL = server.URL + "/oauth2/token"
	return client
}

func TestDropboxCreateFolder(t *testing.T) {
	t.Run("conflict resolves to existing folder", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/files/create_folder_v2":
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error_summary": "path/conflict/folder/",
				})
			case "/files/get_metadata":
				json.NewEncoder(w).Encode(map[string]interface{}{
					".tag": "folder", "name": "Trip",
					"path_lower": "/photosync/trip", "path_display": "/Photosync/Trip",
				})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		folder, err := newDropboxTestClient(server).CreateFolder(context.Background(), "Trip", "/photosync")
		require.NoError(t, err)
		assert.Equal(t, "/photosync/trip", folder.ID)
		assert.Equal(t, "/photosync", folder.ParentID)
	})

	t.Run("creates under root when parent empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/files/create_folder_v2", r.URL.Path)
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "/Photosync", body["path"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"metadata": map[string]interface{}{
					"name": "Photosync", "path_lower": "/photosync",
				},
			})
		}))
		defer server.Close()

		folder, err := newDropboxTestClient(server).CreateFolder(context.Background(), "Photosync", "")
		require.NoError(t, err)
		assert.Equal(t, "/photosync", folder.ID)
		assert.Equal(t, "", folder.ParentID)
	})
}

func TestDropboxGetChanges(t *testing.T) {
	t.Run("empty token establishes cursor", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/files/list_folder/get_latest_cursor", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"cursor": "dbx-cursor"})
		}))
		defer server.Close()

		list, err := newDropboxTestClient(server).GetChanges(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, list.Changes)
		assert.Equal(t, "dbx-cursor", list.NextPageToken)
	})

	t.Run("continue page classifies entries", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/files/list_folder/continue", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"entries": []map[string]interface{}{
					{".tag": "deleted", "name": "old.jpg", "path_lower": "/photosync/trip/old.jpg"},
					{".tag": "folder", "name": "Trip", "path_lower": "/photosync/trip"},
					{".tag": "file", "name": "new.jpg", "path_lower": "/photosync/trip/new.jpg", "size": 42},
				},
				"cursor":   "dbx-cursor-2",
				"has_more": false,
			})
		}))
		defer server.Close()

		list, err := newDropboxTestClient(server).GetChanges(context.Background(), "dbx-cursor")
		require.NoError(t, err)
		require.Len(t, list.Changes, 3)
		assert.Equal(t, models.ChangeDeleted, list.Changes[0].Type)
		assert.True(t, list.Changes[1].IsFolder)
		assert.Equal(t, models.ChangeModified, list.Changes[2].Type)
		assert.Equal(t, "/photosync/trip", list.Changes[2].ParentID)
		assert.Equal(t, "dbx-cursor-2", list.NextPageToken)
	})
}

func TestDropboxSharedLink(t *testing.T) {
	t.Run("existing link reused on conflict", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/sharing/create_shared_link_with_settings":
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error_summary": "shared_link_already_exists/metadata/",
				})
			case "/sharing/list_shared_links":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"links": []map[string]interface{}{{"url": "https://dbx.link/abc"}},
				})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		url, err := newDropboxTestClient(server).GetFileURL(context.Background(), "/photosync/trip/a.jpg")
		require.NoError(t, err)
		assert.Equal(t, "https://dbx.link/abc", url)
	})
}

func TestDropboxPathHelpers(t *testing.T) {
	assert.Equal(t, "/Photosync", joinPath("", "Photosync"))
	assert.Equal(t, "/photosync/trip", joinPath("/photosync", "trip"))
	assert.Equal(t, "/photosync/trip", joinPath("/photosync/", "trip"))
	assert.Equal(t, "", parentPath("/photosync"))
	assert.Equal(t, "/photosync", parentPath("/photosync/trip"))
}
