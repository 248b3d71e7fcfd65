package provider

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/photosync/cloudsync/internal/models"
)

const defaultBackoffTTL = 60 * time.Second

// transportError wraps a network-level failure as transient
func transportError(provider string, err error) error {
	return &models.TransientProviderError{Provider: provider, Err: err}
}

// statusError maps a non-2xx response onto the shared error taxonomy.
// Provider-specific quirks (Drive's 403 rate limits, Dropbox's JSON error
// tags) are handled by the adapters before falling through to this.
func statusError(provider string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &models.AuthError{Provider: provider, Message: "access token rejected"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &models.BackoffError{Provider: provider, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return &models.NotFoundError{Resource: "remote resource", ID: resp.Request.URL.Path}
	case resp.StatusCode >= 500:
		return &models.TransientProviderError{
			Provider: provider,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	default:
		return fmt.Errorf("%s: unexpected status %d: %s", provider, resp.StatusCode, truncate(body, 200))
	}
}

// parseRetryAfter reads the provider's retry hint, defaulting to 60s
func parseRetryAfter(resp *http.Response) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultBackoffTTL
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
