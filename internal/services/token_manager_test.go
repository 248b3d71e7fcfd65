package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/cryptox"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/provider"
	"github.com/photosync/cloudsync/internal/repository"
)

type tokenManagerFixture struct {
	tm          *TokenManager
	connections *repository.ConnectionRepository
	provider    *fakeProvider
	limiter     *RateLimiter
}

func newTokenManagerFixture(t *testing.T) *tokenManagerFixture {
	t.Helper()

	db := newServiceDB(t)
	connections := repository.NewConnectionRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	cipher, err := cryptox.New("test-passphrase", "test-salt")
	require.NoError(t, err)

	limiter := NewRateLimiter(config.Default())
	t.Cleanup(limiter.Stop)

	fake := &fakeProvider{}
	tm := NewTokenManager(connections, &fakeRegistry{client: fake}, cipher, limiter, NewAuditService(auditRepo))

	return &tokenManagerFixture{
		tm:          tm,
		connections: connections,
		provider:    fake,
		limiter:     limiter,
	}
}

func TestTokenManagerAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored token while fresh", func(t *testing.T) {
		fx := newTokenManagerFixture(t)
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			t.Fatal("refresh must not be called for a fresh token")
			return nil, nil
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderGoogleDrive, "access-1", "refresh-1", time.Now().Add(time.Hour))
		require.NoError(t, err)

		token, err := fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, "access-1", token)
	})

	t.Run("tokens are encrypted at rest", func(t *testing.T) {
		fx := newTokenManagerFixture(t)

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderDropbox, "access-1", "refresh-1", time.Now().Add(time.Hour))
		require.NoError(t, err)

		stored, err := fx.connections.Get(ctx, "user-1", models.ProviderDropbox)
		require.NoError(t, err)
		assert.NotEqual(t, "access-1", stored.AccessToken)
		assert.NotEqual(t, "refresh-1", stored.RefreshToken)
	})

	t.Run("refreshes inside the expiry buffer", func(t *testing.T) {
		fx := newTokenManagerFixture(t)

		var gotRefreshToken string
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			gotRefreshToken = refreshToken
			return &provider.TokenRefresh{AccessToken: "access-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderGoogleDrive, "access-1", "refresh-1", time.Now().Add(2*time.Minute))
		require.NoError(t, err)

		token, err := fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, "access-2", token)
		assert.Equal(t, "refresh-1", gotRefreshToken)

		// Stored expiry moved forward, so the next call skips the refresh
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			t.Fatal("second refresh not expected")
			return nil, nil
		}
		token, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, "access-2", token)
	})

	t.Run("keeps old refresh token when provider does not rotate", func(t *testing.T) {
		fx := newTokenManagerFixture(t)
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			return &provider.TokenRefresh{AccessToken: "access-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderDropbox, "access-1", "refresh-1", time.Now())
		require.NoError(t, err)

		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderDropbox)
		require.NoError(t, err)

		// Force another refresh; the original refresh token must survive
		var gotRefreshToken string
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			gotRefreshToken = refreshToken
			return &provider.TokenRefresh{AccessToken: "access-3", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
		require.NoError(t, fx.connections.UpdateTokens(ctx, "user-1", models.ProviderDropbox, mustEncrypt(t, fx.tm, "access-2"), mustEncrypt(t, fx.tm, "refresh-1"), time.Now()))

		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderDropbox)
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", gotRefreshToken)
	})

	t.Run("missing connection reported as not found", func(t *testing.T) {
		fx := newTokenManagerFixture(t)

		_, err := fx.tm.AccessToken(ctx, "nobody", models.ProviderGoogleDrive)
		var notFound *models.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestTokenManagerRefreshFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected refresh disconnects the connection", func(t *testing.T) {
		fx := newTokenManagerFixture(t)
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			return nil, &models.AuthError{Provider: models.ProviderGoogleDrive, Message: "invalid_grant"}
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderGoogleDrive, "access-1", "refresh-1", time.Now())
		require.NoError(t, err)

		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		var authErr *models.AuthError
		require.ErrorAs(t, err, &authErr)

		stored, err := fx.connections.Get(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionDisconnected, stored.Status)
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "invalid_grant")

		// The disconnected connection is not retried
		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, authErr.Message, "disconnected")
	})

	t.Run("missing refresh credential disconnects without calling the provider", func(t *testing.T) {
		fx := newTokenManagerFixture(t)
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			t.Fatal("refresh must not be attempted without a credential")
			return nil, nil
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderGoogleDrive, "access-1", "", time.Now().Add(2*time.Minute))
		require.NoError(t, err)

		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderGoogleDrive)
		var authErr *models.AuthError
		require.ErrorAs(t, err, &authErr)

		stored, err := fx.connections.Get(ctx, "user-1", models.ProviderGoogleDrive)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionDisconnected, stored.Status)
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "no refresh credential")

		// No refresh-quota spend for the doomed attempt
		hour, _ := fx.limiter.Usage("user-1", models.ProviderGoogleDrive, OpTokenRefresh)
		assert.Equal(t, 0, hour)
	})

	t.Run("provider backoff leaves connection active", func(t *testing.T) {
		fx := newTokenManagerFixture(t)
		fx.provider.refreshFn = func(ctx context.Context, refreshToken string) (*provider.TokenRefresh, error) {
			return nil, &models.BackoffError{Provider: models.ProviderDropbox, RetryAfter: time.Minute}
		}

		_, err := fx.tm.Connect(ctx, "user-1", models.ProviderDropbox, "access-1", "refresh-1", time.Now())
		require.NoError(t, err)

		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderDropbox)
		var backoffErr *models.BackoffError
		require.ErrorAs(t, err, &backoffErr)

		stored, err := fx.connections.Get(ctx, "user-1", models.ProviderDropbox)
		require.NoError(t, err)
		assert.Equal(t, models.ConnectionActive, stored.Status)

		// Subsequent refresh attempts are held off by the recorded backoff
		_, err = fx.tm.AccessToken(ctx, "user-1", models.ProviderDropbox)
		require.ErrorAs(t, err, &backoffErr)
	})
}

func mustEncrypt(t *testing.T, tm *TokenManager, plaintext string) string {
	t.Helper()
	enc, err := tm.cipher.EncryptString(plaintext)
	require.NoError(t, err)
	return enc
}
