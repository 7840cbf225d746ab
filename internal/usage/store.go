package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Counters holds the usage totals of one provider
type Counters struct {
	ProviderID     string     `json:"provider_id"`
	FilesCount     int64      `json:"files_count"`
	BytesStored    int64      `json:"bytes_stored"`
	BandwidthBytes int64      `json:"bandwidth_bytes"`
	LastUploadAt   *time.Time `json:"last_upload_at,omitempty"`
}

// Store persists per-provider usage counters in the provider_usage table
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store on an already migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordUpload adds one file of storedBytes to the provider's counters.
// transferredBytes is what went over the wire, which differs from the stored
// plaintext size when the payload was encrypted.
func (s *Store) RecordUpload(ctx context.Context, providerID string, storedBytes, transferredBytes int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_usage (provider_id, files_count, bytes_stored, bandwidth_bytes, last_upload_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			files_count = files_count + 1,
			bytes_stored = bytes_stored + excluded.bytes_stored,
			bandwidth_bytes = bandwidth_bytes + excluded.bandwidth_bytes,
			last_upload_at = excluded.last_upload_at
	`, providerID, storedBytes, transferredBytes, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to record usage for %s: %w", providerID, err)
	}
	return nil
}

// Get returns the counters of one provider; a provider without uploads has zero counters
func (s *Store) Get(ctx context.Context, providerID string) (*Counters, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider_id, files_count, bytes_stored, bandwidth_bytes, last_upload_at
		FROM provider_usage WHERE provider_id = ?
	`, providerID)

	c, err := scanCounters(row)
	if err == sql.ErrNoRows {
		return &Counters{ProviderID: providerID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage for %s: %w", providerID, err)
	}
	return c, nil
}

// All returns the counters of every provider with recorded usage, keyed by id
func (s *Store) All(ctx context.Context) (map[string]*Counters, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, files_count, bytes_stored, bandwidth_bytes, last_upload_at
		FROM provider_usage
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Counters)
	for rows.Next() {
		c, err := scanCounters(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		result[c.ProviderID] = c
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCounters(row scanner) (*Counters, error) {
	var c Counters
	var lastUpload sql.NullInt64
	if err := row.Scan(&c.ProviderID, &c.FilesCount, &c.BytesStored, &c.BandwidthBytes, &lastUpload); err != nil {
		return nil, err
	}
	if lastUpload.Valid {
		t := time.Unix(lastUpload.Int64, 0).UTC()
		c.LastUploadAt = &t
	}
	return &c, nil
}
