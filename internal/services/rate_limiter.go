package services

import (
	"context"
	"sync"
	"time"

	"github.com/photosync/cloudsync/internal/config"
	"github.com/photosync/cloudsync/internal/models"
	"github.com/photosync/cloudsync/internal/observability"
)

// Operation names used for quota accounting
const (
	OpTokenRefresh = "token_refresh"
	OpFileUpload   = "file_upload"
	OpFileDelete   = "file_delete"
	OpFolderCreate = "folder_create"
	OpFolderList   = "folder_list"
	OpFileGet      = "file_get"
	OpChangesList  = "changes_list"
)

// Operations lists every accounted operation, in reporting order
var Operations = []string{
	OpTokenRefresh,
	OpFileUpload,
	OpFileDelete,
	OpFolderCreate,
	OpFolderList,
	OpFileGet,
	OpChangesList,
}

// priorityOps are always allowed through the quota, logging a warning
// when they exceed it
var priorityOps = map[string]bool{
	OpTokenRefresh: true,
	OpFileDelete:   true,
	OpFolderCreate: true,
}

// usageWindow tracks one operation's call counts against calendar-hour
// and calendar-day windows
type usageWindow struct {
	hourStart time.Time
	hourCount int
	dayStart  time.Time
	dayCount  int
}

// RateLimiter enforces per-user API quotas, counted separately per
// (provider, operation). A provider-imposed backoff applies to the whole
// connection, blocking every operation until it expires.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string]*usageWindow
	backoffs map[string]time.Time
	cfg      *config.Config

	// Injectable clock for window rollover tests
	now func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter using the quotas from config
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	limiter := &RateLimiter{
		windows:  make(map[string]*usageWindow),
		backoffs: make(map[string]time.Time),
		cfg:      cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go limiter.cleanupStale()

	return limiter
}

func windowKey(userID, provider, operation string) string {
	return userID + ":" + provider + ":" + operation
}

func backoffKey(userID, provider string) string {
	return userID + ":" + provider
}

// Allow records one API call for the connection and returns an error
// when the call must not proceed. Priority operations always pass,
// other operations fail with QuotaExceededError once either window for
// that operation is full. An active provider backoff blocks every
// operation.
func (rl *RateLimiter) Allow(userID, provider, operation string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if until := rl.backoffs[backoffKey(userID, provider)]; until.After(now) {
		return &models.BackoffError{
			Provider:   provider,
			RetryAfter: until.Sub(now),
		}
	}

	window := rl.window(userID, provider, operation, now)
	quota := rl.cfg.QuotaFor(provider)
	overQuota := window.hourCount >= quota.Hourly || window.dayCount >= quota.Daily

	if overQuota {
		if !priorityOps[operation] {
			observability.Metrics().RecordQuotaRejection(context.Background(), provider, operation)
			return &models.QuotaExceededError{Provider: provider, Operation: operation}
		}
		observability.WithFields(map[string]interface{}{
			"user_id":   userID,
			"provider":  provider,
			"operation": operation,
		}).Warn("priority operation bypassing exhausted quota")
	}

	window.hourCount++
	window.dayCount++
	return nil
}

// SetBackoff blocks the connection until the provider-requested delay
// elapses. A zero or negative delay falls back to the default.
func (rl *RateLimiter) SetBackoff(userID, provider string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := backoffKey(userID, provider)
	until := rl.now().Add(retryAfter)
	if until.After(rl.backoffs[key]) {
		rl.backoffs[key] = until
	}
}

// Usage returns the current hour and day counts for one operation of a
// connection
func (rl *RateLimiter) Usage(userID, provider, operation string) (hour, day int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.window(userID, provider, operation, rl.now())
	return window.hourCount, window.dayCount
}

// Stop terminates the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// window returns the usage window for the key, rolling counts over when
// the calendar hour or day has changed
func (rl *RateLimiter) window(userID, provider, operation string, now time.Time) *usageWindow {
	key := windowKey(userID, provider, operation)

	window, exists := rl.windows[key]
	if !exists {
		window = &usageWindow{
			hourStart: now.Truncate(time.Hour),
			dayStart:  startOfDay(now),
		}
		rl.windows[key] = window
	}

	if hour := now.Truncate(time.Hour); hour.After(window.hourStart) {
		window.hourStart = hour
		window.hourCount = 0
	}
	if day := startOfDay(now); day.After(window.dayStart) {
		window.dayStart = day
		window.dayCount = 0
	}

	return window
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// cleanupStale runs periodically to drop windows with no current usage
// and expired backoffs
func (rl *RateLimiter) cleanupStale() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()

			for key, window := range rl.windows {
				if startOfDay(now).After(window.dayStart) {
					delete(rl.windows, key)
				}
			}
			for key, until := range rl.backoffs {
				if !until.After(now) {
					delete(rl.backoffs, key)
				}
			}

			rl.mu.Unlock()
		}
	}
}
