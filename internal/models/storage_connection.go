package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifiers for supported cloud storage backends
const (
	ProviderGoogleDrive = "google_drive"
	ProviderDropbox     = "dropbox"
)

// IsValidProvider checks if a provider identifier is supported
func IsValidProvider(p string) bool {
	switch p {
	case ProviderGoogleDrive, ProviderDropbox:
		return true
	}
	return false
}

// ConnectionStatus represents the lifecycle state of a storage connection
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// StorageConnection links a user to a cloud storage account. At most one
// connection exists per (user, provider). Tokens are stored encrypted;
// plaintext only exists inside the token manager. Connections are never
// hard-deleted so the history stays available for audit.
type StorageConnection struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Provider     string           `json:"provider"`
	AccessToken  string           `json:"-"`
	RefreshToken string           `json:"-"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	Status       ConnectionStatus `json:"status"`
	LastError    *string          `json:"lastError,omitempty"`
	LastErrorAt  *time.Time       `json:"lastErrorAt,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// NewStorageConnection creates an active connection with encrypted tokens
func NewStorageConnection(userID, provider, accessToken, refreshToken string, expiresAt time.Time) (*StorageConnection, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	if !IsValidProvider(provider) {
		return nil, &UnsupportedProviderError{Provider: provider}
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrEmptyAccessToken
	}

	now := time.Now().UTC()
	return &StorageConnection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Provider:     provider,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Status:       ConnectionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ExpiresWithin reports whether the access token expires inside the buffer
func (c *StorageConnection) ExpiresWithin(buffer time.Duration) bool {
	return time.Now().Add(buffer).After(c.ExpiresAt)
}

// IsActive reports whether the connection can be used for provider calls
func (c *StorageConnection) IsActive() bool {
	return c.Status == ConnectionActive
}

// Errors
type ConnectionError struct {
	Message string
}

func (e ConnectionError) Error() string {
	return e.Message
}

var (
	ErrEmptyUserID      = ConnectionError{"user id cannot be empty"}
	ErrEmptyAccessToken = ConnectionError{"access token cannot be empty"}
)
