package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/repository"
)

// maxSyncPages bounds one run against a runaway change feed; remaining
// pages are picked up by the next run from the committed cursor
const maxSyncPages = 50

// SyncStatus reports the state of the reconciliation sweep
type SyncStatus struct {
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastRunTook string     `json:"lastRunTook,omitempty"`
	Connections int        `json:"connections"`
	Processed   int        `json:"processed"`
	Deleted     int        `json:"deleted"`
	Updated     int        `json:"updated"`
	Conflicts   int        `json:"conflicts"`
	Errors      []string   `json:"errors,omitempty"`
}

// SyncService pulls provider change feeds and reconciles the local
// catalog against them. One sweep at a time; the per-connection cursor
// only advances after a page of changes has been fully applied.
type SyncService struct {
	connections repository.ConnectionRepo
	syncStates  repository.SyncStateRepo
	photos      repository.PhotoRepo
	folders     *FolderManager
	tokens      *TokenManager
	limiter     *RateLimiter
	audit       *AuditService
	cache       *TTLCache
	wsHub       *WebSocketHub

	running atomic.Bool

	mu     sync.RWMutex
	status SyncStatus
}

// NewSyncService creates a sync service
func NewSyncService(
	connections repository.ConnectionRepo,
	syncStates repository.SyncStateRepo,
	photos repository.PhotoRepo,
	folders *FolderManager,
	tokens *TokenManager,
	limiter *RateLimiter,
	audit *AuditService,
	cache *TTLCache,
) *SyncService {
	return &SyncService{
		connections: connections,
		syncStates:  syncStates,
		photos:      photos,
		folders:     folders,
		tokens:      tokens,
		limiter:     limiter,
		audit:       audit,
		cache:       cache,
	}
}

// SetWebSocketHub sets the hub for real-time sweep notifications
func (s *SyncService) SetWebSocketHub(hub *WebSocketHub) {
	s.wsHub = hub
}

// Status returns a snapshot of the sweep state
func (s *SyncService) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SyncAll reconciles every active connection. Only one sweep runs at a
// time; a call that overlaps a running sweep is a no-op returning the
// current status. A failing connection is recorded and skipped, never
// aborting the others.
func (s *SyncService) SyncAll(ctx context.Context) (*SyncStatus, error) {
	if !s.running.CompareAndSwap(false, true) {
		snapshot := s.Status()
		return &snapshot, nil
	}
	defer s.running.Store(false)

	started := time.Now()

	conns, err := s.connections.GetAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active connections: %w", err)
	}

	s.mu.Lock()
	s.status = SyncStatus{Running: true, Connections: len(conns)}
	s.mu.Unlock()

	for _, conn := range conns {
		result, err := s.syncConnection(ctx, conn.UserID, conn.Provider)
		if err != nil {
			s.recordConnectionFailure(ctx, conn.UserID, conn.Provider, err)
			continue
		}
		s.recordConnectionResult(ctx, conn.UserID, conn.Provider, result)
	}

	finished := time.Now()
	observability.Metrics().RecordSweep(ctx, finished.Sub(started), len(conns), false)

	s.mu.Lock()
	s.status.Running = false
	s.status.LastRun = &finished
	s.status.LastRunTook = finished.Sub(started).Round(time.Millisecond).String()
	snapshot := s.status
	s.mu.Unlock()

	s.notifySweep(WSTypeSyncComplete, snapshot)

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"connections": snapshot.Connections,
		"processed":   snapshot.Processed,
		"deleted":     snapshot.Deleted,
		"updated":     snapshot.Updated,
		"conflicts":   snapshot.Conflicts,
		"took":        snapshot.LastRunTook,
	}).Info("Sync sweep finished")

	return &snapshot, nil
}

// SyncUser reconciles a single connection outside the sweep
func (s *SyncService) SyncUser(ctx context.Context, userID, provider string) (*models.SyncResult, error) {
	conn, err := s.connections.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, &models.NotFoundError{Resource: "connection", ID: userID + ":" + provider}
	}
	if !conn.IsActive() {
		return nil, &models.AuthError{Provider: provider, Message: "connection is disconnected"}
	}

	result, err := s.syncConnection(ctx, userID, provider)
	if err != nil {
		s.recordConnectionFailure(ctx, userID, provider, err)
		return nil, err
	}
	s.recordConnectionResult(ctx, userID, provider, result)
	return result, nil
}

// syncConnection drains the connection's change feed page by page. Each
// page is applied in full before its cursor is committed, so a crash or
// error mid-page redelivers the whole page on the next run.
func (s *SyncService) syncConnection(ctx context.Context, userID, provider string) (*models.SyncResult, error) {
	client, err := s.tokens.Client(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	state, err := s.syncStates.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	cursor := ""
	if state != nil {
		cursor = state.LastSyncToken
	}

	result := &models.SyncResult{}

	for page := 0; page < maxSyncPages; page++ {
		if err := s.limiter.Allow(userID, provider, OpChangesList); err != nil {
			return nil, err
		}

		list, err := client.GetChanges(ctx, cursor)
		if err != nil {
			var backoffErr *models.BackoffError
			if errors.As(err, &backoffErr) {
				s.limiter.SetBackoff(userID, provider, backoffErr.RetryAfter)
			}
			return nil, err
		}

		for _, change := range list.Changes {
			if err := s.applyChange(ctx, userID, provider, change, result); err != nil {
				return nil, fmt.Errorf("failed to apply change %s: %w", change.FileID, err)
			}
			result.Processed++
		}

		// Commit point: the page has been fully applied. A page without
		// a next token keeps the old cursor; only last_sync_at moves.
		next := list.NextPageToken
		if next == "" {
			next = cursor
		}
		if err := s.commitCursor(ctx, userID, provider, next); err != nil {
			return nil, err
		}

		done := len(list.Changes) == 0 || next == cursor
		cursor = next
		if done {
			break
		}
	}

	return result, nil
}

func (s *SyncService) commitCursor(ctx context.Context, userID, provider, token string) error {
	now := time.Now().UTC()
	return s.syncStates.Upsert(ctx, &models.SyncState{
		UserID:        userID,
		Provider:      provider,
		LastSyncToken: token,
		LastSyncAt:    &now,
	})
}

// applyChange reconciles one change feed entry against the catalog.
// Entries referencing files and folders the catalog never tracked are
// ignored.
func (s *SyncService) applyChange(ctx context.Context, userID, provider string, change models.Change, result *models.SyncResult) error {
	if change.IsFolder || change.Type == models.ChangeDeleted {
		// A deletion entry does not always say whether it was a file or
		// a folder, so check the folder mappings first either way
		mapping, err := s.folders.MappingByFolderID(ctx, change.FileID, provider)
		if err != nil {
			return err
		}
		if mapping != nil {
			return s.applyFolderChange(ctx, userID, provider, change, mapping, result)
		}
		if change.IsFolder {
			return nil // untracked folder
		}
	}

	return s.applyFileChange(ctx, userID, provider, change, result)
}

func (s *SyncService) applyFolderChange(ctx context.Context, userID, provider string, change models.Change, mapping *models.FolderMapping, result *models.SyncResult) error {
	switch change.Type {
	case models.ChangeDeleted:
		conflict := models.Conflict{
			Type:      models.ConflictFolderMissing,
			GalleryID: mapping.GalleryID,
			Detail:    "mapped provider folder was deleted remotely",
		}
		result.Conflicts = append(result.Conflicts, conflict)
		s.folders.Invalidate(mapping.GalleryID, provider)
		s.audit.Record(ctx, models.AuditConflictDetected, "gallery", mapping.GalleryID, map[string]string{
			"conflict":  string(conflict.Type),
			"provider":  provider,
			"folder_id": change.FileID,
		})
		s.notifyConflict(userID, conflict)

	case models.ChangeMoved, models.ChangeModified, models.ChangeRenamed:
		if change.ParentID != "" && change.ParentID != mapping.ParentFolderID {
			if err := s.folders.RecordFolderParent(ctx, mapping.GalleryID, provider, change.ParentID); err != nil {
				return err
			}
			result.Updated++
			s.audit.Record(ctx, models.AuditFolderMove, "gallery", mapping.GalleryID, map[string]string{
				"provider":   provider,
				"folder_id":  change.FileID,
				"new_parent": change.ParentID,
			})
		}
	}

	return nil
}

func (s *SyncService) applyFileChange(ctx context.Context, userID, provider string, change models.Change, result *models.SyncResult) error {
	switch change.Type {
	case models.ChangeDeleted:
		photo, err := s.photos.GetByProviderFileID(ctx, userID, provider, change.FileID)
		if err != nil {
			return err
		}
		deleted, err := s.photos.SoftDelete(ctx, userID, provider, change.FileID, time.Now().UTC())
		if err != nil {
			return err
		}
		if deleted {
			result.Deleted++
			s.cache.Delete(photoURLKey(change.FileID))
			if photo != nil {
				s.cache.Delete(galleryListKey(photo.GalleryID))
			}
			s.audit.Record(ctx, models.AuditFileDelete, "photo", change.FileID, map[string]string{
				"provider": provider,
				"user_id":  userID,
			})
		}
		return nil

	case models.ChangeModified, models.ChangeRenamed, models.ChangeMoved:
		photo, err := s.photos.GetByProviderFileID(ctx, userID, provider, change.FileID)
		if err != nil {
			return err
		}
		if photo == nil || photo.IsDeleted() {
			return nil // untracked file
		}

		acted := false
		if change.Name != "" && models.SanitizeName(change.Name) != photo.Name {
			renamed, err := s.photos.UpdateName(ctx, userID, provider, change.FileID, change.Name)
			if err != nil {
				return err
			}
			if renamed {
				acted = true
				result.Updated++
				s.cache.Delete(galleryListKey(photo.GalleryID))
				s.audit.Record(ctx, models.AuditFileRename, "photo", photo.ID, map[string]string{
					"provider": provider,
					"old_name": photo.Name,
					"new_name": models.SanitizeName(change.Name),
				})
			}
		}

		if change.ParentID != "" {
			moved, err := s.applyFileMove(ctx, userID, provider, change, photo, result)
			if err != nil {
				return err
			}
			acted = acted || moved
		}

		// A plain content modification with no rename or move still
		// counts as an update; the cached listing may show stale metadata
		if !acted {
			result.Updated++
			s.cache.Delete(galleryListKey(photo.GalleryID))
		}
		return nil
	}

	return nil
}

// applyFileMove re-homes a photo whose file now sits in a different
// mapped folder. A move into an unmapped folder breaks the gallery
// structure and is surfaced as a conflict. Returns whether the change
// was acted on (re-homed or conflicted).
func (s *SyncService) applyFileMove(ctx context.Context, userID, provider string, change models.Change, photo *models.Photo, result *models.SyncResult) (bool, error) {
	current, err := s.folders.Mapping(ctx, photo.GalleryID, provider)
	if err != nil {
		return false, err
	}
	if current != nil && current.ProviderFolderID == change.ParentID {
		return false, nil // still in its gallery folder
	}

	target, err := s.folders.MappingByFolderID(ctx, change.ParentID, provider)
	if err != nil {
		return false, err
	}

	if target == nil {
		conflict := models.Conflict{
			Type:      models.ConflictStructureBroken,
			GalleryID: photo.GalleryID,
			PhotoID:   photo.ID,
			Detail:    "file moved outside the mapped folder tree",
		}
		result.Conflicts = append(result.Conflicts, conflict)
		s.audit.Record(ctx, models.AuditConflictDetected, "photo", photo.ID, map[string]string{
			"conflict":  string(conflict.Type),
			"provider":  provider,
			"parent_id": change.ParentID,
		})
		s.notifyConflict(userID, conflict)
		return true, nil
	}

	moved, err := s.photos.UpdateGallery(ctx, userID, provider, change.FileID, target.GalleryID)
	if err != nil {
		return false, err
	}
	if moved {
		result.Updated++
		s.cache.Delete(galleryListKey(photo.GalleryID))
		s.cache.Delete(galleryListKey(target.GalleryID))
		s.audit.Record(ctx, models.AuditFolderMove, "photo", photo.ID, map[string]string{
			"provider":     provider,
			"from_gallery": photo.GalleryID,
			"to_gallery":   target.GalleryID,
		})
	}
	return moved, nil
}

func (s *SyncService) recordConnectionResult(ctx context.Context, userID, provider string, result *models.SyncResult) {
	observability.Metrics().RecordChanges(ctx, provider, result.Processed, len(result.Conflicts))

	s.mu.Lock()
	s.status.Processed += result.Processed
	s.status.Deleted += result.Deleted
	s.status.Updated += result.Updated
	s.status.Conflicts += len(result.Conflicts)
	snapshot := s.status
	s.mu.Unlock()

	s.audit.Record(ctx, models.AuditSyncCompleted, "connection", userID+":"+provider, map[string]string{
		"processed": strconv.Itoa(result.Processed),
		"deleted":   strconv.Itoa(result.Deleted),
		"updated":   strconv.Itoa(result.Updated),
		"conflicts": strconv.Itoa(len(result.Conflicts)),
	})

	s.notifySweep(WSTypeSyncProgress, snapshot)
}

func (s *SyncService) recordConnectionFailure(ctx context.Context, userID, provider string, err error) {
	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":  userID,
		"provider": provider,
	}).Errorf("Connection sync failed: %v", err)

	s.mu.Lock()
	s.status.Errors = append(s.status.Errors, fmt.Sprintf("%s:%s: %v", userID, provider, err))
	s.mu.Unlock()

	s.audit.Record(ctx, models.AuditSyncFailed, "connection", userID+":"+provider, map[string]string{
		"error": err.Error(),
	})
}

func (s *SyncService) notifySweep(msgType string, status SyncStatus) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.BroadcastToTopic(TopicSync, WSMessage{
		Type: msgType,
		Payload: SyncProgressPayload{
			Running:     status.Running,
			Connections: status.Connections,
			Processed:   status.Processed,
			Deleted:     status.Deleted,
			Updated:     status.Updated,
			Conflicts:   status.Conflicts,
		},
	})
}

func (s *SyncService) notifyConflict(userID string, conflict models.Conflict) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.SendToUser(userID, WSMessage{
		Type:    WSTypeConflictFound,
		Payload: conflict,
	})
}
