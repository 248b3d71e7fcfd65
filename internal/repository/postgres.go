package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS storage_connections (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		expires_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_error TEXT,
		last_error_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS root_folders (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_folder_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS folder_mappings (
		gallery_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_folder_id TEXT NOT NULL,
		parent_folder_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (gallery_id, provider)
	);

	CREATE INDEX IF NOT EXISTS idx_folder_mappings_folder_id
		ON folder_mappings(provider_folder_id, provider);

	CREATE TABLE IF NOT EXISTS sync_state (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		last_sync_token TEXT,
		last_sync_at TIMESTAMP,
		PRIMARY KEY (user_id, provider)
	);

	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		gallery_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_file_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mime_type TEXT,
		file_size BIGINT NOT NULL,
		url TEXT,
		date_taken TIMESTAMP,
		uploaded_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_photos_provider_file
		ON photos(user_id, provider, provider_file_id);
	CREATE INDEX IF NOT EXISTS idx_photos_gallery ON photos(gallery_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`

	_, err := db.Exec(schema)
	return err
}
