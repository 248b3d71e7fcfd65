package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoto(t *testing.T) {
	t.Run("creates photo with valid parameters", func(t *testing.T) {
		photo, err := NewPhoto("user-1", "gallery-1", ProviderGoogleDrive, "drive-file-1", "sunset.jpg", 2048)

		require.NoError(t, err)
		assert.NotEmpty(t, photo.ID)
		assert.Equal(t, "user-1", photo.UserID)
		assert.Equal(t, "gallery-1", photo.GalleryID)
		assert.Equal(t, "drive-file-1", photo.ProviderFileID)
		assert.Equal(t, "sunset.jpg", photo.Name)
		assert.Equal(t, int64(2048), photo.FileSize)
		assert.Nil(t, photo.DeletedAt)
		assert.WithinDuration(t, time.Now().UTC(), photo.UploadedAt, time.Second*5)
	})

	t.Run("rejects empty user id", func(t *testing.T) {
		_, err := NewPhoto("", "g", ProviderDropbox, "f", "a.jpg", 1)
		assert.ErrorIs(t, err, ErrEmptyPhotoUser)
	})

	t.Run("rejects empty gallery id", func(t *testing.T) {
		_, err := NewPhoto("u", "", ProviderDropbox, "f", "a.jpg", 1)
		assert.ErrorIs(t, err, ErrEmptyGalleryID)
	})

	t.Run("rejects empty provider file id", func(t *testing.T) {
		_, err := NewPhoto("u", "g", ProviderDropbox, "", "a.jpg", 1)
		assert.ErrorIs(t, err, ErrEmptyProviderFileID)
	})

	t.Run("rejects non-positive file size", func(t *testing.T) {
		_, err := NewPhoto("u", "g", ProviderDropbox, "f", "a.jpg", 0)
		assert.ErrorIs(t, err, ErrInvalidFileSize)

		_, err = NewPhoto("u", "g", ProviderDropbox, "f", "a.jpg", -5)
		assert.ErrorIs(t, err, ErrInvalidFileSize)
	})

	t.Run("sanitizes name with path components", func(t *testing.T) {
		photo, err := NewPhoto("u", "g", ProviderDropbox, "f", "../../../etc/passwd.jpg", 1)
		require.NoError(t, err)
		assert.NotContains(t, photo.Name, "..")
		assert.NotContains(t, photo.Name, "/")
	})
}

func TestStorageConnection(t *testing.T) {
	t.Run("creates active connection", func(t *testing.T) {
		conn, err := NewStorageConnection("user-1", ProviderGoogleDrive, "enc-access", "enc-refresh", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, ConnectionActive, conn.Status)
		assert.True(t, conn.IsActive())
		assert.NotEmpty(t, conn.ID)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		_, err := NewStorageConnection("user-1", "box", "a", "r", time.Now())
		var unsupported *UnsupportedProviderError
		assert.ErrorAs(t, err, &unsupported)
	})

	t.Run("expiry buffer", func(t *testing.T) {
		conn, err := NewStorageConnection("user-1", ProviderDropbox, "a", "r", time.Now().Add(3*time.Minute))
		require.NoError(t, err)
		assert.True(t, conn.ExpiresWithin(5*time.Minute))
		assert.False(t, conn.ExpiresWithin(time.Minute))
	})
}
