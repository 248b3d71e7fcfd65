package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
)

const (
	driveFolderMimeType   = "application/vnd.google-apps.folder"
	driveResumableChunk   = 8 * 1024 * 1024
	driveDefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	driveDefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
)

// GoogleDrive implements StorageProvider against the Drive v3 REST API
type GoogleDrive struct {
	oauth      config.OAuthClient
	token      string
	httpClient *http.Client

	// Overridable for tests
	baseURL   string
	uploadURL string
	tokenURL  string
}

// NewGoogleDrive creates a Drive client bound to an access token
func NewGoogleDrive(oauth config.OAuthClient, accessToken string, httpClient *http.Client) StorageProvider {
	return &GoogleDrive{
		oauth:      oauth,
		token:      accessToken,
		httpClient: httpClient,
		baseURL:    driveDefaultBaseURL,
		uploadURL:  driveDefaultUploadURL,
		tokenURL:   google.Endpoint.TokenURL,
	}
}

type driveFile struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MimeType       string   `json:"mimeType"`
	Size           string   `json:"size,omitempty"`
	Trashed        bool     `json:"trashed,omitempty"`
	Parents        []string `json:"parents,omitempty"`
	WebContentLink string   `json:"webContentLink,omitempty"`
}

func (f *driveFile) toFile() *models.File {
	size, _ := strconv.ParseInt(f.Size, 10, 64)
	file := &models.File{
		ID:       f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     size,
		URL:      f.WebContentLink,
	}
	if len(f.Parents) > 0 {
		file.ParentID = f.Parents[0]
	}
	return file
}

func (f *driveFile) toFolder() *models.Folder {
	folder := &models.Folder{ID: f.ID, Name: f.Name}
	if len(f.Parents) > 0 {
		folder.ParentID = f.Parents[0]
	}
	return folder
}

// CreateFolder returns the existing folder when one with the same name
// already lives under the parent
func (g *GoogleDrive) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	return withRetry(ctx, func() (*models.Folder, error) {
		existing, err := g.findFolder(ctx, name, parentID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}

		body := map[string]interface{}{
			"name":     name,
			"mimeType": driveFolderMimeType,
		}
		if parentID != "" {
			body["parents"] = []string{parentID}
		}

		var created driveFile
		if err := g.doJSON(ctx, http.MethodPost, g.baseURL+"/files?fields=id,name,parents", body, &created); err != nil {
			return nil, err
		}
		return created.toFolder(), nil
	})
}

// ListFolders lists the folders directly under a parent
func (g *GoogleDrive) ListFolders(ctx context.Context, parentID string) ([]*models.Folder, error) {
	return withRetry(ctx, func() ([]*models.Folder, error) {
		q := fmt.Sprintf("mimeType = '%s' and trashed = false", driveFolderMimeType)
		if parentID != "" {
			q += fmt.Sprintf(" and '%s' in parents", escapeDriveQuery(parentID))
		}

		params := url.Values{}
		params.Set("q", q)
		params.Set("fields", "files(id,name,parents)")

		var list struct {
			Files []driveFile `json:"files"`
		}
		if err := g.doJSON(ctx, http.MethodGet, g.baseURL+"/files?"+params.Encode(), nil, &list); err != nil {
			return nil, err
		}

		folders := make([]*models.Folder, 0, len(list.Files))
		for i := range list.Files {
			folders = append(folders, list.Files[i].toFolder())
		}
		return folders, nil
	})
}

// UploadFile uploads a small payload in one multipart request
func (g *GoogleDrive) UploadFile(ctx context.Context, data []byte, name, mimeType, parentID string) (*models.File, error) {
	return withRetry(ctx, func() (*models.File, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		metaHeader := textproto.MIMEHeader{}
		metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
		metaPart, err := writer.CreatePart(metaHeader)
		if err != nil {
			return nil, err
		}
		meta := map[string]interface{}{"name": name}
		if parentID != "" {
			meta["parents"] = []string{parentID}
		}
		if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
			return nil, err
		}

		dataHeader := textproto.MIMEHeader{}
		dataHeader.Set("Content-Type", mimeType)
		dataPart, err := writer.CreatePart(dataHeader)
		if err != nil {
			return nil, err
		}
		if _, err := dataPart.Write(data); err != nil {
			return nil, err
		}
		writer.Close()

		uploadTo := g.uploadURL + "/files?uploadType=multipart&fields=id,name,mimeType,size,parents"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadTo, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

		var uploaded driveFile
		if err := g.execute(req, &uploaded); err != nil {
			return nil, err
		}

		file := uploaded.toFile()
		fileURL, err := g.ensureSharedURL(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		file.URL = fileURL
		return file, nil
	})
}

// UploadFileResumable uploads a large payload through a resumable session.
// Drive only commits the file once the final chunk lands, so readers never
// observe a partial upload.
func (g *GoogleDrive) UploadFileResumable(ctx context.Context, r io.Reader, name, mimeType string, size int64, parentID string) (*models.File, error) {
	sessionURL, err := withRetry(ctx, func() (string, error) {
		return g.startResumableSession(ctx, name, mimeType, size, parentID)
	})
	if err != nil {
		return nil, err
	}

	var uploaded driveFile
	var offset int64
	chunk := make([]byte, driveResumableChunk)

	for offset < size {
		n, readErr := io.ReadFull(r, chunk)
		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			if n == 0 {
				break
			}
		} else if readErr != nil {
			return nil, readErr
		}

		start, end := offset, offset+int64(n)-1
		done, err := withRetry(ctx, func() (bool, error) {
			return g.uploadChunk(ctx, sessionURL, chunk[:n], start, end, size, &uploaded)
		})
		if err != nil {
			return nil, err
		}
		offset += int64(n)
		if done {
			break
		}
	}

	file := uploaded.toFile()
	fileURL, err := g.ensureSharedURL(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	file.URL = fileURL
	return file, nil
}

func (g *GoogleDrive) startResumableSession(ctx context.Context, name, mimeType string, size int64, parentID string) (string, error) {
	meta := map[string]interface{}{"name": name}
	if parentID != "" {
		meta["parents"] = []string{parentID}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	uploadTo := g.uploadURL + "/files?uploadType=resumable&fields=id,name,mimeType,size,parents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadTo, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", mimeType)
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", transportError(models.ProviderGoogleDrive, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", g.classify(resp, body)
	}

	session := resp.Header.Get("Location")
	if session == "" {
		return "", fmt.Errorf("google_drive: resumable session missing location header")
	}
	return session, nil
}

// uploadChunk sends one chunk; returns true once Drive commits the file
func (g *GoogleDrive) uploadChunk(ctx context.Context, sessionURL string, chunk []byte, start, end, total int64, out *driveFile) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	req.ContentLength = int64(len(chunk))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, transportError(models.ProviderGoogleDrive, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, err
		}
		return true, nil
	case 308: // resume incomplete, keep sending
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return false, g.classify(resp, body)
	}
}

// GetFile retrieves file metadata
func (g *GoogleDrive) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	return withRetry(ctx, func() (*models.File, error) {
		var file driveFile
		endpoint := g.baseURL + "/files/" + url.PathEscape(fileID) + "?fields=id,name,mimeType,size,parents,webContentLink"
		if err := g.doJSON(ctx, http.MethodGet, endpoint, nil, &file); err != nil {
			return nil, err
		}
		return file.toFile(), nil
	})
}

// DeleteFile permanently removes a file
func (g *GoogleDrive) DeleteFile(ctx context.Context, fileID string) error {
	_, err := withRetry(ctx, func() (struct{}, error) {
		endpoint := g.baseURL + "/files/" + url.PathEscape(fileID)
		return struct{}{}, g.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	})
	return err
}

// GetFileURL returns a durably retrievable URL for the file
func (g *GoogleDrive) GetFileURL(ctx context.Context, fileID string) (string, error) {
	return withRetry(ctx, func() (string, error) {
		return g.ensureSharedURL(ctx, fileID)
	})
}

// ensureSharedURL grants anyone-with-link read access and returns the
// content link
func (g *GoogleDrive) ensureSharedURL(ctx context.Context, fileID string) (string, error) {
	permission := map[string]string{"role": "reader", "type": "anyone"}
	endpoint := g.baseURL + "/files/" + url.PathEscape(fileID) + "/permissions"
	if err := g.doJSON(ctx, http.MethodPost, endpoint, permission, nil); err != nil {
		return "", err
	}

	var file driveFile
	endpoint = g.baseURL + "/files/" + url.PathEscape(fileID) + "?fields=webContentLink"
	if err := g.doJSON(ctx, http.MethodGet, endpoint, nil, &file); err != nil {
		return "", err
	}
	return file.WebContentLink, nil
}

// RefreshAccessToken exchanges the refresh credential for a new access
// token. An invalid or revoked refresh credential maps to AuthError.
func (g *GoogleDrive) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefresh, error) {
	return withRetry(ctx, func() (*TokenRefresh, error) {
		conf := &oauth2.Config{
			ClientID:     g.oauth.ClientID,
			ClientSecret: g.oauth.ClientSecret,
			RedirectURL:  g.oauth.RedirectURI,
			Endpoint:     oauth2.Endpoint{TokenURL: g.tokenURL},
		}

		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
		token, err := conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
					return nil, &models.TransientProviderError{Provider: models.ProviderGoogleDrive, Err: err}
				}
				return nil, &models.AuthError{Provider: models.ProviderGoogleDrive, Message: "refresh token rejected: " + retrieveErr.ErrorCode}
			}
			return nil, transportError(models.ProviderGoogleDrive, err)
		}

		refreshed := &TokenRefresh{
			AccessToken: token.AccessToken,
			ExpiresAt:   token.Expiry,
		}
		if token.RefreshToken != "" && token.RefreshToken != refreshToken {
			refreshed.RefreshToken = token.RefreshToken
		}
		return refreshed, nil
	})
}

// GetChanges pulls one page of the change feed. Without a page token it
// establishes a fresh start-of-history cursor and returns no changes.
func (g *GoogleDrive) GetChanges(ctx context.Context, pageToken string) (*models.ChangeList, error) {
	return withRetry(ctx, func() (*models.ChangeList, error) {
		if pageToken == "" {
			var start struct {
				StartPageToken string `json:"startPageToken"`
			}
			if err := g.doJSON(ctx, http.MethodGet, g.baseURL+"/changes/startPageToken", nil, &start); err != nil {
				return nil, err
			}
			return &models.ChangeList{Changes: []models.Change{}, NextPageToken: start.StartPageToken}, nil
		}

		params := url.Values{}
		params.Set("pageToken", pageToken)
		params.Set("includeRemoved", "true")
		params.Set("pageSize", "100")
		params.Set("fields", "changes(removed,fileId,file(id,name,mimeType,trashed,parents)),nextPageToken,newStartPageToken")

		var feed struct {
			Changes []struct {
				Removed bool       `json:"removed"`
				FileID  string     `json:"fileId"`
				File    *driveFile `json:"file"`
			} `json:"changes"`
			NextPageToken     string `json:"nextPageToken"`
			NewStartPageToken string `json:"newStartPageToken"`
		}
		if err := g.doJSON(ctx, http.MethodGet, g.baseURL+"/changes?"+params.Encode(), nil, &feed); err != nil {
			return nil, err
		}

		changes := make([]models.Change, 0, len(feed.Changes))
		for _, c := range feed.Changes {
			change := models.Change{FileID: c.FileID}
			if c.Removed || (c.File != nil && c.File.Trashed) {
				change.Type = models.ChangeDeleted
			} else if c.File != nil {
				change.Type = models.ChangeModified
				change.Name = c.File.Name
				change.MimeType = c.File.MimeType
				change.IsFolder = c.File.MimeType == driveFolderMimeType
				if len(c.File.Parents) > 0 {
					change.ParentID = c.File.Parents[0]
				}
			} else {
				change.Type = models.ChangeDeleted
			}
			changes = append(changes, change)
		}

		next := feed.NextPageToken
		if next == "" {
			next = feed.NewStartPageToken
		}
		return &models.ChangeList{Changes: changes, NextPageToken: next}, nil
	})
}

// findFolder looks for a live folder with the name under the parent
func (g *GoogleDrive) findFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeDriveQuery(name), driveFolderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeDriveQuery(parentID))
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "files(id,name,parents)")

	var list struct {
		Files []driveFile `json:"files"`
	}
	if err := g.doJSON(ctx, http.MethodGet, g.baseURL+"/files?"+params.Encode(), nil, &list); err != nil {
		return nil, err
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return list.Files[0].toFolder(), nil
}

// doJSON performs an authorized JSON request against the Drive API
func (g *GoogleDrive) doJSON(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	return g.execute(req, out)
}

func (g *GoogleDrive) execute(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transportError(models.ProviderGoogleDrive, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return g.classify(resp, body)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classify maps a Drive error response onto the shared taxonomy. Drive
// signals rate limiting through 403 reason codes as well as 429.
func (g *GoogleDrive) classify(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusForbidden {
		text := string(body)
		if strings.Contains(text, "rateLimitExceeded") || strings.Contains(text, "userRateLimitExceeded") {
			return &models.BackoffError{Provider: models.ProviderGoogleDrive, RetryAfter: parseRetryAfter(resp)}
		}
	}
	return statusError(models.ProviderGoogleDrive, resp, body)
}

// escapeDriveQuery escapes single quotes and backslashes in Drive query values
func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
