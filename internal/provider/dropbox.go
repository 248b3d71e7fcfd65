package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
)

const (
	dropboxSessionChunk      = 4 * 1024 * 1024
	dropboxDefaultAPIURL     = "https://api.dropboxapi.com/2"
	dropboxDefaultContentURL = "https://content.dropboxapi.com/2"
	dropboxDefaultTokenURL   = "https://api.dropboxapi.com/oauth2/token"
)

// Dropbox implements StorageProvider against the Dropbox HTTP API v2.
// Lowercased remote paths double as file and folder identifiers.
type Dropbox struct {
	oauth      config.OAuthClient
	token      string
	httpClient *http.Client

	// Overridable for tests
	apiURL     string
	contentURL string
	tokenURL   string
}

// NewDropbox creates a Dropbox client bound to an access token
func NewDropbox(oauth config.OAuthClient, accessToken string, httpClient *http.Client) StorageProvider {
	return &Dropbox{
		oauth:      oauth,
		token:      accessToken,
		httpClient: httpClient,
		apiURL:     dropboxDefaultAPIURL,
		contentURL: dropboxDefaultContentURL,
		tokenURL:   dropboxDefaultTokenURL,
	}
}

type dropboxEntry struct {
	Tag         string `json:".tag"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
}

// dropboxAPIError carries a 409 error summary so callers can branch on
// conflict tags (folder exists, shared link exists)
type dropboxAPIError struct {
	Summary string
}

func (e *dropboxAPIError) Error() string {
	return "dropbox: " + e.Summary
}

func (e *dropboxEntry) toFolder() *models.Folder {
	return &models.Folder{
		ID:       e.PathLower,
		Name:     e.Name,
		ParentID: parentPath(e.PathLower),
	}
}

func (e *dropboxEntry) toFile() *models.File {
	return &models.File{
		ID:       e.PathLower,
		Name:     e.Name,
		Size:     e.Size,
		ParentID: parentPath(e.PathLower),
	}
}

// CreateFolder returns the existing folder when the path already exists
func (d *Dropbox) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	return withRetry(ctx, func() (*models.Folder, error) {
		folderPath := joinPath(parentID, name)

		var created struct {
			Metadata dropboxEntry `json:"metadata"`
		}
		err := d.rpc(ctx, "/files/create_folder_v2", map[string]interface{}{
			"path":       folderPath,
			"autorename": false,
		}, &created)

		var conflict *dropboxAPIError
		if errors.As(err, &conflict) && strings.Contains(conflict.Summary, "conflict") {
			return d.getFolderMetadata(ctx, folderPath)
		}
		if err != nil {
			return nil, err
		}
		return created.Metadata.toFolder(), nil
	})
}

// ListFolders lists the folders directly under a parent
func (d *Dropbox) ListFolders(ctx context.Context, parentID string) ([]*models.Folder, error) {
	return withRetry(ctx, func() ([]*models.Folder, error) {
		var list struct {
			Entries []dropboxEntry `json:"entries"`
		}
		err := d.rpc(ctx, "/files/list_folder", map[string]interface{}{
			"path":      parentID,
			"recursive": false,
		}, &list)
		if err != nil {
			return nil, err
		}

		folders := make([]*models.Folder, 0, len(list.Entries))
		for i := range list.Entries {
			if list.Entries[i].Tag == "folder" {
				folders = append(folders, list.Entries[i].toFolder())
			}
		}
		return folders, nil
	})
}

// UploadFile uploads a small payload in one request
func (d *Dropbox) UploadFile(ctx context.Context, data []byte, name, mimeType, parentID string) (*models.File, error) {
	return withRetry(ctx, func() (*models.File, error) {
		arg := map[string]interface{}{
			"path":       joinPath(parentID, name),
			"mode":       "add",
			"autorename": true,
		}

		var uploaded dropboxEntry
		if err := d.content(ctx, "/files/upload", arg, bytes.NewReader(data), &uploaded); err != nil {
			return nil, err
		}

		file := uploaded.toFile()
		file.MimeType = mimeType
		fileURL, err := d.ensureSharedURL(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		file.URL = fileURL
		return file, nil
	})
}

// UploadFileResumable uploads through an upload session. The file only
// becomes visible when the session is finished.
func (d *Dropbox) UploadFileResumable(ctx context.Context, r io.Reader, name, mimeType string, size int64, parentID string) (*models.File, error) {
	chunk := make([]byte, dropboxSessionChunk)

	n, err := readChunk(r, chunk)
	if err != nil {
		return nil, err
	}
	first := append([]byte(nil), chunk[:n]...)

	sessionID, err := withRetry(ctx, func() (string, error) {
		var session struct {
			SessionID string `json:"session_id"`
		}
		arg := map[string]interface{}{"close": false}
		if err := d.content(ctx, "/files/upload_session/start", arg, bytes.NewReader(first), &session); err != nil {
			return "", err
		}
		return session.SessionID, nil
	})
	if err != nil {
		return nil, err
	}

	offset := int64(n)
	for offset < size {
		n, err := readChunk(r, chunk)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}

		part := append([]byte(nil), chunk[:n]...)
		start := offset
		_, err = withRetry(ctx, func() (struct{}, error) {
			arg := map[string]interface{}{
				"cursor": map[string]interface{}{"session_id": sessionID, "offset": start},
				"close":  false,
			}
			return struct{}{}, d.content(ctx, "/files/upload_session/append_v2", arg, bytes.NewReader(part), nil)
		})
		if err != nil {
			return nil, err
		}
		offset += int64(n)
	}

	return withRetry(ctx, func() (*models.File, error) {
		arg := map[string]interface{}{
			"cursor": map[string]interface{}{"session_id": sessionID, "offset": offset},
			"commit": map[string]interface{}{
				"path":       joinPath(parentID, name),
				"mode":       "add",
				"autorename": true,
			},
		}

		var finished dropboxEntry
		if err := d.content(ctx, "/files/upload_session/finish", arg, bytes.NewReader(nil), &finished); err != nil {
			return nil, err
		}

		file := finished.toFile()
		file.MimeType = mimeType
		fileURL, err := d.ensureSharedURL(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		file.URL = fileURL
		return file, nil
	})
}

// GetFile retrieves file metadata
func (d *Dropbox) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	return withRetry(ctx, func() (*models.File, error) {
		var entry dropboxEntry
		err := d.rpc(ctx, "/files/get_metadata", map[string]interface{}{"path": fileID}, &entry)
		if err != nil {
			return nil, err
		}
		return entry.toFile(), nil
	})
}

// DeleteFile permanently removes a file
func (d *Dropbox) DeleteFile(ctx context.Context, fileID string) error {
	_, err := withRetry(ctx, func() (struct{}, error) {
		return struct{}{}, d.rpc(ctx, "/files/delete_v2", map[string]interface{}{"path": fileID}, nil)
	})
	return err
}

// GetFileURL returns a shared link, creating one if needed
func (d *Dropbox) GetFileURL(ctx context.Context, fileID string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		return d.ensureSharedURL(ctx, fileID)
	})
}

func (d *Dropbox) ensureSharedURL(ctx context.Context, filePath string) (string, error) {
	var link struct {
		URL string `json:"url"`
	}
	err := d.rpc(ctx, "/sharing/create_shared_link_with_settings", map[string]interface{}{
		"path": filePath,
	}, &link)
	if err == nil {
		return link.URL, nil
	}

	var conflict *dropboxAPIError
	if !errors.As(err, &conflict) || !strings.Contains(conflict.Summary, "shared_link_already_exists") {
		return "", err
	}

	var existing struct {
		Links []struct {
			URL string `json:"url"`
		} `json:"links"`
	}
	err = d.rpc(ctx, "/sharing/list_shared_links", map[string]interface{}{
		"path":        filePath,
		"direct_only": true,
	}, &existing)
	if err != nil {
		return "", err
	}
	if len(existing.Links) == 0 {
		return "", fmt.Errorf("dropbox: shared link reported existing but none found for %s", filePath)
	}
	return existing.Links[0].URL, nil
}

// RefreshAccessToken exchanges the refresh credential for a new access
// token. Dropbox does not rotate refresh tokens.
func (d *Dropbox) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefresh, error) {
	return withRetry(ctx, func() (*TokenRefresh, error) {
		conf := &oauth2.Config{
			ClientID:     d.oauth.ClientID,
			ClientSecret: d.oauth.ClientSecret,
			RedirectURL:  d.oauth.RedirectURI,
			Endpoint:     oauth2.Endpoint{TokenURL: d.tokenURL},
		}

		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
		token, err := conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
					return nil, &models.TransientProviderError{Provider: models.ProviderDropbox, Err: err}
				}
				return nil, &models.AuthError{Provider: models.ProviderDropbox, Message: "refresh token rejected: " + retrieveErr.ErrorCode}
			}
			return nil, transportError(models.ProviderDropbox, err)
		}

		return &TokenRefresh{
			AccessToken: token.AccessToken,
			ExpiresAt:   token.Expiry,
		}, nil
	})
}

// GetChanges pulls one page of the change feed. Without a cursor it
// establishes the latest cursor and returns no changes.
func (d *Dropbox) GetChanges(ctx context.Context, pageToken string) (*models.ChangeList, error) {
	return withRetry(ctx, func() (*models.ChangeList, error) {
		if pageToken == "" {
			var latest struct {
				Cursor string `json:"cursor"`
			}
			err := d.rpc(ctx, "/files/list_folder/get_latest_cursor", map[string]interface{}{
				"path":            "",
				"recursive":       true,
				"include_deleted": true,
			}, &latest)
			if err != nil {
				return nil, err
			}
			return &models.ChangeList{Changes: []models.Change{}, NextPageToken: latest.Cursor}, nil
		}

		var page struct {
			Entries []dropboxEntry `json:"entries"`
			Cursor  string         `json:"cursor"`
			HasMore bool           `json:"has_more"`
		}
		err := d.rpc(ctx, "/files/list_folder/continue", map[string]interface{}{"cursor": pageToken}, &page)
		if err != nil {
			return nil, err
		}

		changes := make([]models.Change, 0, len(page.Entries))
		for _, entry := range page.Entries {
			change := models.Change{
				FileID:   entry.PathLower,
				Name:     entry.Name,
				ParentID: parentPath(entry.PathLower),
			}
			switch entry.Tag {
			case "deleted":
				change.Type = models.ChangeDeleted
			case "folder":
				change.Type = models.ChangeModified
				change.IsFolder = true
			default:
				change.Type = models.ChangeModified
			}
			changes = append(changes, change)
		}

		return &models.ChangeList{Changes: changes, NextPageToken: page.Cursor}, nil
	})
}

func (d *Dropbox) getFolderMetadata(ctx context.Context, folderPath string) (*models.Folder, error) {
	var entry dropboxEntry
	err := d.rpc(ctx, "/files/get_metadata", map[string]interface{}{"path": folderPath}, &entry)
	if err != nil {
		return nil, err
	}
	return entry.toFolder(), nil
}

// rpc performs a JSON RPC-style call against the Dropbox API host
func (d *Dropbox) rpc(ctx context.Context, endpoint string, args interface{}, out interface{}) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/json")

	return d.execute(req, out)
}

// content performs an upload-style call against the content host, with
// the JSON arguments passed in the Dropbox-API-Arg header
func (d *Dropbox) content(ctx context.Context, endpoint string, args interface{}, body io.Reader, out interface{}) error {
	arg, err := json.Marshal(args)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.contentURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")

	return d.execute(req, out)
}

func (d *Dropbox) execute(req *http.Request, out interface{}) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return transportError(models.ProviderDropbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return d.classify(resp, body)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps a Dropbox error response onto the shared taxonomy. 409
// responses carry a machine-readable error summary that callers branch on.
func (d *Dropbox) classify(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusConflict {
		var apiErr struct {
			ErrorSummary string `json:"error_summary"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorSummary != "" {
			return &dropboxAPIError{Summary: apiErr.ErrorSummary}
		}
		return &dropboxAPIError{Summary: string(body)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp)
		var throttle struct {
			Error struct {
				RetryAfter int `json:"retry_after"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &throttle); err == nil && throttle.Error.RetryAfter > 0 {
			retryAfter = time.Duration(throttle.Error.RetryAfter) * time.Second
		}
		return &models.BackoffError{Provider: models.ProviderDropbox, RetryAfter: retryAfter}
	}

	return statusError(models.ProviderDropbox, resp, body)
}

// joinPath builds a Dropbox path from a parent path and a leaf name
func joinPath(parent, name string) string {
	if parent == "" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// parentPath returns the parent of a Dropbox path, empty for top level
func parentPath(p string) string {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return ""
	}
	return dir
}

// readChunk fills buf as far as the reader allows, returning 0 at EOF
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}
