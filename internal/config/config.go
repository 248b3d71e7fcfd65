package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/photosync/cloudsync/internal/models"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string                 `json:"serverAddress"`
	DatabasePath  string                 `json:"databasePath"`
	DatabaseURL   string                 `json:"databaseUrl"`
	Security      Security               `json:"security"`
	Providers     map[string]OAuthClient `json:"providers"`
	RateLimits    map[string]Quota       `json:"rateLimits"`
	DefaultQuota  Quota                  `json:"defaultQuota"`
	Sync          Sync                   `json:"sync"`
}

// OAuthClient holds the OAuth application credentials for one provider
type OAuthClient struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
}

// Quota is the request budget for one provider
type Quota struct {
	Hourly int `json:"hourly"`
	Daily  int `json:"daily"`
}

// Security configuration
type Security struct {
	APIKey         string `json:"apiKey"`
	APIKeyHeader   string `json:"apiKeyHeader"`
	EncryptionKey  string `json:"encryptionKey"`
	EncryptionSalt string `json:"encryptionSalt"`
}

// Sync configuration for the recurring reconciliation sweep
type Sync struct {
	Schedule  string `json:"schedule"`
	AutoStart bool   `json:"autoStart"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// QuotaFor returns the configured quota for a provider, or the default
func (c *Config) QuotaFor(provider string) Quota {
	if q, ok := c.RateLimits[provider]; ok {
		return q
	}
	return c.DefaultQuota
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return defaultConfig()
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "cloudsync.db",
		Security: Security{
			APIKey:         "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader:   "X-API-Key",
			EncryptionSalt: "cloudsync-token-store",
		},
		Providers: map[string]OAuthClient{},
		RateLimits: map[string]Quota{
			models.ProviderGoogleDrive: {Hourly: 500, Daily: 5000},
			models.ProviderDropbox:     {Hourly: 500, Daily: 5000},
		},
		DefaultQuota: Quota{Hourly: 500, Daily: 5000},
		Sync: Sync{
			Schedule:  "0 * * * *", // hourly
			AutoStart: true,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if key := os.Getenv("TOKEN_ENCRYPTION_KEY"); key != "" {
		cfg.Security.EncryptionKey = key
	}
	if salt := os.Getenv("TOKEN_ENCRYPTION_SALT"); salt != "" {
		cfg.Security.EncryptionSalt = salt
	}
	if schedule := os.Getenv("SYNC_SCHEDULE"); schedule != "" {
		cfg.Sync.Schedule = schedule
	}
	if autoStart := os.Getenv("SYNC_AUTO_START"); autoStart != "" {
		cfg.Sync.AutoStart = autoStart == "true" || autoStart == "1"
	}

	loadProviderEnv(cfg, models.ProviderGoogleDrive, "GOOGLE_DRIVE")
	loadProviderEnv(cfg, models.ProviderDropbox, "DROPBOX")

	if hourly := os.Getenv("QUOTA_HOURLY"); hourly != "" {
		if n, err := strconv.Atoi(hourly); err == nil && n > 0 {
			cfg.DefaultQuota.Hourly = n
		}
	}
	if daily := os.Getenv("QUOTA_DAILY"); daily != "" {
		if n, err := strconv.Atoi(daily); err == nil && n > 0 {
			cfg.DefaultQuota.Daily = n
		}
	}

	return cfg, nil
}

// loadProviderEnv fills provider OAuth credentials from environment
// variables like GOOGLE_DRIVE_CLIENT_ID
func loadProviderEnv(cfg *Config, provider, prefix string) {
	client := cfg.Providers[provider]
	if id := os.Getenv(prefix + "_CLIENT_ID"); id != "" {
		client.ClientID = id
	}
	if secret := os.Getenv(prefix + "_CLIENT_SECRET"); secret != "" {
		client.ClientSecret = secret
	}
	if redirect := os.Getenv(prefix + "_REDIRECT_URI"); redirect != "" {
		client.RedirectURI = redirect
	}
	cfg.Providers[provider] = client
}
