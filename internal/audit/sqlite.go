package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite-based audit log store
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Audit log store initialized")
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT,
		event_type TEXT NOT NULL,
		resource_type TEXT,
		resource_id TEXT,
		resource_name TEXT,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		ip_address TEXT,
		user_agent TEXT,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// LogEvent records an audit event
func (s *SQLiteStore) LogEvent(ctx context.Context, event *AuditEvent) error {
	detailsJSON := "{}"
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to marshal audit event details to JSON")
		} else {
			detailsJSON = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, actor_id, actor_name, event_type,
			resource_type, resource_id, resource_name, action, status,
			ip_address, user_agent, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(),
		event.ActorID,
		event.ActorName,
		event.EventType,
		event.ResourceType,
		event.ResourceID,
		event.ResourceName,
		event.Action,
		event.Status,
		event.IPAddress,
		event.UserAgent,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

const logColumns = `id, timestamp, actor_id, actor_name, event_type,
	resource_type, resource_id, resource_name, action, status,
	ip_address, user_agent, details`

// GetLogs retrieves audit logs with filters, newest first
func (s *SQLiteStore) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`SELECT %s FROM audit_logs %s ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, logColumns, whereClause)

	rows, err := s.db.QueryContext(ctx, query, append(args, filters.PageSize, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log, err := s.scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, total, nil
}

// GetLogByID retrieves a single log entry
func (s *SQLiteStore) GetLogByID(ctx context.Context, id int64) (*AuditLog, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM audit_logs WHERE id = ?`, logColumns), id)

	log, err := s.scanLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return log, nil
}

// PurgeLogs deletes logs older than the given number of days
func (s *SQLiteStore) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted rows count: %w", err)
	}
	return int(deleted), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func buildWhereClause(filters *AuditLogFilters) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = ?")
			args = append(args, value)
		}
	}
	add("actor_id", filters.ActorID)
	add("event_type", filters.EventType)
	add("resource_type", filters.ResourceType)
	add("resource_id", filters.ResourceID)
	add("action", filters.Action)
	add("status", filters.Status)

	if filters.StartDate > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filters.StartDate)
	}
	if filters.EndDate > 0 {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filters.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanLog(row scanner) (*AuditLog, error) {
	log := &AuditLog{}
	var actorName, resourceType, resourceID, resourceName, ipAddress, userAgent, detailsJSON sql.NullString

	if err := row.Scan(
		&log.ID,
		&log.Timestamp,
		&log.ActorID,
		&actorName,
		&log.EventType,
		&resourceType,
		&resourceID,
		&resourceName,
		&log.Action,
		&log.Status,
		&ipAddress,
		&userAgent,
		&detailsJSON,
	); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	log.ActorName = actorName.String
	log.ResourceType = resourceType.String
	log.ResourceID = resourceID.String
	log.ResourceName = resourceName.String
	log.IPAddress = ipAddress.String
	log.UserAgent = userAgent.String

	log.Details = make(map[string]interface{})
	if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "{}" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &log.Details); err != nil {
			s.logger.WithError(err).Warn("Failed to unmarshal audit log details")
		}
	}

	return log, nil
}
