package models

import "time"

// Folder is a provider-side folder as returned by a storage adapter
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// File is a provider-side file as returned by a storage adapter
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

// RootFolder is the provider-side namespace root for all of a user's
// galleries. Created lazily, at most once per (user, provider); concurrent
// creation attempts converge on a single persisted id via upsert.
type RootFolder struct {
	UserID           string    `json:"userId"`
	Provider         string    `json:"provider"`
	ProviderFolderID string    `json:"providerFolderId"`
	CreatedAt        time.Time `json:"createdAt"`
}

// FolderMapping links an internal gallery or sub-gallery to its
// provider-side folder. The parent chain of any mapping terminates at the
// owning user's RootFolder for the same provider.
type FolderMapping struct {
	GalleryID        string    `json:"galleryId"`
	Provider         string    `json:"provider"`
	ProviderFolderID string    `json:"providerFolderId"`
	ParentFolderID   string    `json:"parentFolderId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
