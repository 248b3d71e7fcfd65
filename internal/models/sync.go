package models

import "time"

// ChangeType classifies a single entry of a provider change feed
type ChangeType string

const (
	ChangeDeleted  ChangeType = "deleted"
	ChangeModified ChangeType = "modified"
	ChangeRenamed  ChangeType = "renamed"
	ChangeMoved    ChangeType = "moved"
)

// Change is one entry of a provider change feed, carrying the minimal
// payload needed to act on it
type Change struct {
	Type     ChangeType `json:"type"`
	FileID   string     `json:"fileId"`
	Name     string     `json:"name,omitempty"`
	ParentID string     `json:"parentId,omitempty"`
	MimeType string     `json:"mimeType,omitempty"`
	IsFolder bool       `json:"isFolder,omitempty"`
}

// ChangeList is one page of a provider change feed
type ChangeList struct {
	Changes       []Change `json:"changes"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// SyncState holds the pagination cursor for a (user, provider) pair. The
// cursor is only advanced after the full batch of changes has been applied;
// a failed batch is redelivered on the next run.
type SyncState struct {
	UserID        string     `json:"userId"`
	Provider      string     `json:"provider"`
	LastSyncToken string     `json:"lastSyncToken,omitempty"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
}

// SyncResult summarizes one syncUser run
type SyncResult struct {
	Processed int        `json:"processed"`
	Deleted   int        `json:"deleted"`
	Updated   int        `json:"updated"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// ConflictType classifies a detected local/remote inconsistency
type ConflictType string

const (
	ConflictFolderMissing   ConflictType = "folder_missing"
	ConflictFileMissing     ConflictType = "file_missing"
	ConflictStructureBroken ConflictType = "structure_broken"
)

// Conflict describes an inconsistency found during reconciliation. It is
// ephemeral: it drives an audit entry and is never persisted on its own.
type Conflict struct {
	Type      ConflictType `json:"type"`
	GalleryID string       `json:"galleryId,omitempty"`
	PhotoID   string       `json:"photoId,omitempty"`
	Detail    string       `json:"detail,omitempty"`
}
