package models

import "time"

// ErrorResponse is the uniform error payload for API endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by the health check endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectRequest is the payload for establishing a storage connection
type ConnectRequest struct {
	UserID       string    `json:"userId"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ConnectionResponse is the API view of a storage connection. Token
// material never leaves the server.
type ConnectionResponse struct {
	UserID      string     `json:"userId"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	LastError   *string    `json:"lastError,omitempty"`
	LastErrorAt *time.Time `json:"lastErrorAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// OperationUsage is one operation's consumption inside its windows
type OperationUsage struct {
	HourlyUsed int `json:"hourlyUsed"`
	DailyUsed  int `json:"dailyUsed"`
}

// UsageResponse reports per-operation quota consumption for a connection
type UsageResponse struct {
	UserID      string                    `json:"userId"`
	Provider    string                    `json:"provider"`
	HourlyQuota int                       `json:"hourlyQuota"`
	DailyQuota  int                       `json:"dailyQuota"`
	Operations  map[string]OperationUsage `json:"operations"`
}

// ConnectionView converts a connection to its API representation
func ConnectionView(conn *StorageConnection) ConnectionResponse {
	return ConnectionResponse{
		UserID:      conn.UserID,
		Provider:    conn.Provider,
		Status:      string(conn.Status),
		ExpiresAt:   conn.ExpiresAt,
		LastError:   conn.LastError,
		LastErrorAt: conn.LastErrorAt,
		CreatedAt:   conn.CreatedAt,
	}
}
