package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
)

func newTestLimiter(t *testing.T, hourly, daily int) (*RateLimiter, *time.Time) {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimits = map[string]config.Quota{}
	cfg.DefaultQuota = config.Quota{Hourly: hourly, Daily: daily}

	limiter := NewRateLimiter(cfg)
	t.Cleanup(limiter.Stop)

	clock := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }
	return limiter, &clock
}

func TestRateLimiterQuota(t *testing.T) {
	t.Run("allows up to hourly quota then rejects", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 3, 100)

		for i := 0; i < 3; i++ {
			require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
		}

		err := limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload)
		var quotaErr *models.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, OpFileUpload, quotaErr.Operation)
	})

	t.Run("connections are counted independently", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 100)

		require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))
		require.NoError(t, limiter.Allow("user-2", models.ProviderGoogleDrive, OpFileUpload))

		assert.Error(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
	})

	t.Run("operations are counted independently", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 100)

		require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
		require.Error(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))

		// An exhausted upload budget leaves other operations untouched
		assert.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpChangesList))
		assert.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFolderList))
	})

	t.Run("priority operations bypass their own exhausted quota", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, 100)

		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileDelete))
		// Deletion and token refresh stay allowed past their windows
		assert.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileDelete))
		assert.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileDelete))

		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpTokenRefresh))
		assert.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpTokenRefresh))
	})
}

func TestRateLimiterWindowRollover(t *testing.T) {
	t.Run("hour count resets on calendar hour", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, 2, 100)

		require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
		require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
		require.Error(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))

		*clock = clock.Add(31 * time.Minute) // crosses 11:00

		require.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))

		hour, day := limiter.Usage("user-1", models.ProviderGoogleDrive, OpFileUpload)
		assert.Equal(t, 1, hour)
		assert.Equal(t, 4, day)
	})

	t.Run("day count persists across hours until midnight", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, 100, 2)

		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))
		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))

		*clock = clock.Add(2 * time.Hour)
		require.Error(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))

		*clock = clock.Add(24 * time.Hour)
		require.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))

		_, day := limiter.Usage("user-1", models.ProviderDropbox, OpFileUpload)
		assert.Equal(t, 1, day)
	})
}

func TestRateLimiterBackoff(t *testing.T) {
	t.Run("backoff blocks all operations until expiry", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, 100, 100)

		limiter.SetBackoff("user-1", models.ProviderGoogleDrive, 2*time.Minute)

		err := limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload)
		var backoffErr *models.BackoffError
		require.ErrorAs(t, err, &backoffErr)
		assert.Equal(t, 2*time.Minute, backoffErr.RetryAfter)

		require.ErrorAs(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpTokenRefresh), &backoffErr)

		*clock = clock.Add(3 * time.Minute)
		assert.NoError(t, limiter.Allow("user-1", models.ProviderGoogleDrive, OpFileUpload))
	})

	t.Run("zero retry-after falls back to default", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, 100, 100)

		limiter.SetBackoff("user-1", models.ProviderDropbox, 0)
		require.Error(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))

		*clock = clock.Add(61 * time.Second)
		assert.NoError(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))
	})

	t.Run("shorter backoff does not shrink an active one", func(t *testing.T) {
		limiter, clock := newTestLimiter(t, 100, 100)

		limiter.SetBackoff("user-1", models.ProviderDropbox, 10*time.Minute)
		limiter.SetBackoff("user-1", models.ProviderDropbox, time.Minute)

		*clock = clock.Add(2 * time.Minute)
		assert.Error(t, limiter.Allow("user-1", models.ProviderDropbox, OpFileUpload))
	})
}
