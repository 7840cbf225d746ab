package migrations

import (
	"database/sql"
)

// getAllMigrations returns all available migrations
func getAllMigrations() []Migration {
	return []Migration{
		migration1StorageProviders(),
		migration2ProviderUsage(),
	}
}

// migration1StorageProviders creates the provider registry table.
// The partial unique index keeps at most one default row.
func migration1StorageProviders() Migration {
	return Migration{
		Version:     1,
		Description: "Create storage_providers table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS storage_providers (
					id TEXT PRIMARY KEY,
					seq INTEGER NOT NULL UNIQUE,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					is_default INTEGER NOT NULL DEFAULT 0,
					is_enabled INTEGER NOT NULL DEFAULT 0,
					access_key TEXT NOT NULL DEFAULT '',
					secret_key TEXT NOT NULL DEFAULT '',
					region TEXT NOT NULL DEFAULT '',
					bucket TEXT NOT NULL DEFAULT '',
					endpoint TEXT NOT NULL DEFAULT '',
					cdn_enabled INTEGER NOT NULL DEFAULT 0,
					cdn_url TEXT NOT NULL DEFAULT '',
					encryption_enabled INTEGER NOT NULL DEFAULT 0,
					encryption_algorithm TEXT NOT NULL DEFAULT 'AES-256',
					encryption_key TEXT NOT NULL DEFAULT '',
					routing_priority INTEGER NOT NULL DEFAULT 0,
					routing_rules TEXT,
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_storage_providers_single_default ON storage_providers(is_default) WHERE is_default = 1`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_storage_providers_kind ON storage_providers(kind)`); err != nil {
				return err
			}
			return nil
		},
	}
}

// migration2ProviderUsage creates the per-provider usage counters
func migration2ProviderUsage() Migration {
	return Migration{
		Version:     2,
		Description: "Create provider_usage table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS provider_usage (
					provider_id TEXT PRIMARY KEY,
					files_count INTEGER NOT NULL DEFAULT 0,
					bytes_stored INTEGER NOT NULL DEFAULT 0,
					bandwidth_bytes INTEGER NOT NULL DEFAULT 0,
					last_upload_at INTEGER,
					FOREIGN KEY (provider_id) REFERENCES storage_providers(id)
				)
			`)
			return err
		},
	}
}
