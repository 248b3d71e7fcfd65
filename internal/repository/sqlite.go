package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- One connection per (user, provider)
	CREATE TABLE IF NOT EXISTS storage_connections (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		expires_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_error TEXT,
		last_error_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, provider)
	);

	-- Provider-side namespace root per (user, provider)
	CREATE TABLE IF NOT EXISTS root_folders (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_folder_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, provider)
	);

	-- Gallery to provider folder mapping
	CREATE TABLE IF NOT EXISTS folder_mappings (
		gallery_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_folder_id TEXT NOT NULL,
		parent_folder_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (gallery_id, provider)
	);

	CREATE INDEX IF NOT EXISTS idx_folder_mappings_folder_id
		ON folder_mappings(provider_folder_id, provider);

	-- Resumable change-feed cursor per (user, provider)
	CREATE TABLE IF NOT EXISTS sync_state (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		last_sync_token TEXT,
		last_sync_at DATETIME,
		PRIMARY KEY (user_id, provider)
	);

	-- Catalog of files living in cloud storage
	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		gallery_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_file_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mime_type TEXT,
		file_size INTEGER NOT NULL,
		url TEXT,
		date_taken DATETIME,
		uploaded_at DATETIME NOT NULL,
		deleted_at DATETIME
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
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`

	_, err := db.Exec(schema)
	return err
}
