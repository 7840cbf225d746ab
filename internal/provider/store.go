package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists provider records
type Store interface {
	Load(ctx context.Context) ([]*StorageProvider, error)
	Insert(ctx context.Context, p *StorageProvider) error
	Update(ctx context.Context, p *StorageProvider) error
	// SwapDefault moves the default flag from oldID to newID in one transaction
	SwapDefault(ctx context.Context, oldID, newID string, at time.Time) error
}

// SQLiteStore implements Store on the storage_providers table
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on a migrated database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const providerColumns = `id, seq, kind, name, is_default, is_enabled,
	access_key, secret_key, region, bucket, endpoint,
	cdn_enabled, cdn_url, encryption_enabled, encryption_algorithm, encryption_key,
	routing_priority, routing_rules, created_at, updated_at`

// Load returns all providers ordered by registration
func (s *SQLiteStore) Load(ctx context.Context) ([]*StorageProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM storage_providers ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*StorageProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// Insert stores a new provider
func (s *SQLiteStore) Insert(ctx context.Context, p *StorageProvider) error {
	rules, err := encodeRules(p.RoutingRules)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO storage_providers (`+providerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.seq, string(p.Kind), p.Name, p.IsDefault, p.IsEnabled,
		p.Credentials.AccessKey, p.Credentials.SecretKey, p.Credentials.Region, p.Credentials.Bucket, p.Credentials.Endpoint,
		p.CDN.Enabled, p.CDN.URL, p.Encryption.Enabled, string(p.Encryption.Algorithm), p.Encryption.Key,
		p.RoutingPriority, rules, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider %s: %w", p.ID, err)
	}
	return nil
}

// Update rewrites every mutable column of an existing provider.
// The default flag is only changed through SwapDefault.
func (s *SQLiteStore) Update(ctx context.Context, p *StorageProvider) error {
	rules, err := encodeRules(p.RoutingRules)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE storage_providers SET
			name = ?, is_enabled = ?,
			access_key = ?, secret_key = ?, region = ?, bucket = ?, endpoint = ?,
			cdn_enabled = ?, cdn_url = ?,
			encryption_enabled = ?, encryption_algorithm = ?, encryption_key = ?,
			routing_priority = ?, routing_rules = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.IsEnabled,
		p.Credentials.AccessKey, p.Credentials.SecretKey, p.Credentials.Region, p.Credentials.Bucket, p.Credentials.Endpoint,
		p.CDN.Enabled, p.CDN.URL,
		p.Encryption.Enabled, string(p.Encryption.Algorithm), p.Encryption.Key,
		p.RoutingPriority, rules, p.UpdatedAt.Unix(),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update provider %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapDefault clears the old default before setting the new one so the
// single-default index is never violated mid-transaction
func (s *SQLiteStore) SwapDefault(ctx context.Context, oldID, newID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if oldID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE storage_providers SET is_default = 0, updated_at = ? WHERE id = ?`,
			at.Unix(), oldID,
		); err != nil {
			return fmt.Errorf("failed to clear default on %s: %w", oldID, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE storage_providers SET is_default = 1, updated_at = ? WHERE id = ?`,
		at.Unix(), newID,
	)
	if err != nil {
		return fmt.Errorf("failed to set default on %s: %w", newID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default swap: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*StorageProvider, error) {
	var (
		p                  StorageProvider
		kind, algorithm    string
		rules              sql.NullString
		createdAt, updated int64
	)

	if err := row.Scan(
		&p.ID, &p.seq, &kind, &p.Name, &p.IsDefault, &p.IsEnabled,
		&p.Credentials.AccessKey, &p.Credentials.SecretKey, &p.Credentials.Region, &p.Credentials.Bucket, &p.Credentials.Endpoint,
		&p.CDN.Enabled, &p.CDN.URL, &p.Encryption.Enabled, &algorithm, &p.Encryption.Key,
		&p.RoutingPriority, &rules, &createdAt, &updated,
	); err != nil {
		return nil, fmt.Errorf("failed to scan provider: %w", err)
	}

	p.Kind = Kind(kind)
	p.Encryption.Algorithm = Algorithm(algorithm)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()

	if rules.Valid && rules.String != "" {
		var r RoutingRules
		if err := json.Unmarshal([]byte(rules.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode routing rules of %s: %w", p.ID, err)
		}
		p.RoutingRules = r.Normalize()
	}

	return &p, nil
}

func encodeRules(r *RoutingRules) (sql.NullString, error) {
	if r.Empty() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode routing rules: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
