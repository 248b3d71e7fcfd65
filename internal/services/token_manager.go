package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/photosync/cloudsync/internal/cryptox"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
	"github.com/photosync/cloudsync/internal/provider"
	"github.com/photosync/cloudsync/internal/repository"
)

// refreshBuffer is how long before expiry a token is refreshed
const refreshBuffer = 5 * time.Minute

// ProviderRegistry resolves a provider name to a bound API client
type ProviderRegistry interface {
	Client(name, accessToken string) (provider.StorageProvider, error)
}

// TokenManager owns OAuth credential lifecycle for storage connections.
// Tokens are encrypted at rest and refreshed ahead of expiry; a failed
// refresh marks the connection disconnected rather than retrying.
type TokenManager struct {
	connections repository.ConnectionRepo
	registry    ProviderRegistry
	cipher      *cryptox.Cipher
	limiter     *RateLimiter
	audit       *AuditService

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewTokenManager creates a token manager
func NewTokenManager(connections repository.ConnectionRepo, registry ProviderRegistry, cipher *cryptox.Cipher, limiter *RateLimiter, audit *AuditService) *TokenManager {
	return &TokenManager{
		connections: connections,
		registry:    registry,
		cipher:      cipher,
		limiter:     limiter,
		audit:       audit,
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// Connect stores a new connection, replacing any previous one for the
// same user and provider
func (tm *TokenManager) Connect(ctx context.Context, userID, providerName, accessToken, refreshToken string, expiresAt time.Time) (*models.StorageConnection, error) {
	encAccess, err := tm.cipher.EncryptString(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := tm.cipher.EncryptString(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	conn, err := models.NewStorageConnection(userID, providerName, encAccess, encRefresh, expiresAt)
	if err != nil {
		return nil, err
	}

	if err := tm.connections.Upsert(ctx, conn); err != nil {
		return nil, err
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":  userID,
		"provider": providerName,
	}).Info("Storage connection established")
	observability.Metrics().ConnectionOpened(ctx, providerName)

	return conn, nil
}

// Disconnect marks the connection disconnected and records why
func (tm *TokenManager) Disconnect(ctx context.Context, userID, providerName, reason string) error {
	err := tm.connections.SetStatus(ctx, userID, providerName, models.ConnectionDisconnected, reason)
	if err != nil {
		return err
	}

	tm.audit.Record(ctx, models.AuditDisconnected, "connection", userID+":"+providerName, map[string]string{
		"reason": reason,
	})
	observability.Metrics().ConnectionClosed(ctx, providerName)
	return nil
}

// AccessToken returns a decrypted access token valid for at least the
// refresh buffer, refreshing through the provider when needed
func (tm *TokenManager) AccessToken(ctx context.Context, userID, providerName string) (string, error) {
	lock := tm.connLock(userID, providerName)
	lock.Lock()
	defer lock.Unlock()

	conn, err := tm.connections.Get(ctx, userID, providerName)
	if err != nil {
		return "", err
	}
	if conn == nil {
		return "", &models.NotFoundError{Resource: "connection", ID: userID + ":" + providerName}
	}
	if !conn.IsActive() {
		return "", &models.AuthError{Provider: providerName, Message: "connection is disconnected"}
	}

	if !conn.ExpiresWithin(refreshBuffer) {
		return tm.cipher.DecryptString(conn.AccessToken)
	}

	return tm.refresh(ctx, conn)
}

// Client returns a provider client bound to a valid access token
func (tm *TokenManager) Client(ctx context.Context, userID, providerName string) (provider.StorageProvider, error) {
	token, err := tm.AccessToken(ctx, userID, providerName)
	if err != nil {
		return nil, err
	}
	return tm.registry.Client(providerName, token)
}

// refresh exchanges the stored refresh token for new credentials. The
// caller holds the connection lock. A provider backoff leaves the
// connection active; any other failure disconnects it.
func (tm *TokenManager) refresh(ctx context.Context, conn *models.StorageConnection) (string, error) {
	var refreshToken string
	if conn.RefreshToken != "" {
		decrypted, err := tm.cipher.DecryptString(conn.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		refreshToken = decrypted
	}
	if refreshToken == "" {
		authErr := &models.AuthError{Provider: conn.Provider, Message: "no refresh credential stored"}
		if dcErr := tm.Disconnect(ctx, conn.UserID, conn.Provider, authErr.Error()); dcErr != nil {
			observability.WithContext(ctx).Errorf("Failed to mark connection disconnected: %v", dcErr)
		}
		return "", authErr
	}

	if err := tm.limiter.Allow(conn.UserID, conn.Provider, OpTokenRefresh); err != nil {
		return "", err
	}

	client, err := tm.registry.Client(conn.Provider, "")
	if err != nil {
		return "", err
	}

	refreshed, err := client.RefreshAccessToken(ctx, refreshToken)
	observability.Metrics().RecordTokenRefresh(ctx, conn.Provider, err == nil)
	if err != nil {
		var backoffErr *models.BackoffError
		if errors.As(err, &backoffErr) {
			tm.limiter.SetBackoff(conn.UserID, conn.Provider, backoffErr.RetryAfter)
			return "", err
		}

		observability.WithContext(ctx).WithFields(map[string]interface{}{
			"user_id":  conn.UserID,
			"provider": conn.Provider,
		}).Errorf("Token refresh failed, disconnecting: %v", err)

		if dcErr := tm.Disconnect(ctx, conn.UserID, conn.Provider, err.Error()); dcErr != nil {
			observability.WithContext(ctx).Errorf("Failed to mark connection disconnected: %v", dcErr)
		}
		return "", err
	}

	encAccess, err := tm.cipher.EncryptString(refreshed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	// Providers that do not rotate refresh tokens keep the stored one
	encRefresh := conn.RefreshToken
	if refreshed.RefreshToken != "" {
		encRefresh, err = tm.cipher.EncryptString(refreshed.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	if err := tm.connections.UpdateTokens(ctx, conn.UserID, conn.Provider, encAccess, encRefresh, refreshed.ExpiresAt); err != nil {
		return "", err
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id":  conn.UserID,
		"provider": conn.Provider,
	}).Info("Access token refreshed")

	return refreshed.AccessToken, nil
}

func (tm *TokenManager) connLock(userID, providerName string) *sync.Mutex {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	key := userID + ":" + providerName
	lock, exists := tm.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		tm.locks[key] = lock
	}
	return lock
}
