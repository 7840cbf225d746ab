package audit

import (
	"context"
	"errors"
)

// ErrLogNotFound is returned when an audit record id does not exist
var ErrLogNotFound = errors.New("audit log not found")

// Event Types - Provider Registry Events
const (
	EventTypeProviderCreated        = "provider_created"
	EventTypeProviderUpdated        = "provider_updated"
	EventTypeProviderDefaultChanged = "provider_default_changed"
	EventTypeProviderTested         = "provider_connection_tested"
)

// Event Types - Encryption Policy Events
const (
	EventTypeEncryptionKeyGenerated = "encryption_key_generated"
	EventTypeEncryptionKeyRotated   = "encryption_key_rotated"
)

// Resource Types
const (
	ResourceTypeProvider      = "storage_provider"
	ResourceTypeEncryptionKey = "encryption_key"
)

// Actions
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionSetDefault = "set_default"
	ActionTest       = "test"
	ActionGenerate   = "generate"
	ActionRotate     = "rotate"
)

// Status
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// SystemActor is used when no authenticated caller is attached to the context
const SystemActor = "system"

// AuditEvent represents a single audit log event to be recorded
type AuditEvent struct {
	ActorID      string                 // Who performed the action; filled from context when empty
	ActorName    string                 // Display name of the actor
	EventType    string                 // Event category (see Event Types constants)
	ResourceType string                 // Type of resource affected
	ResourceID   string                 // ID of affected resource
	ResourceName string                 // Name of affected resource (for display)
	Action       string                 // Action performed
	Status       string                 // success or failed
	IPAddress    string                 // Client IP address
	UserAgent    string                 // Client user agent
	Details      map[string]interface{} // Additional details (stored as JSON), never secrets
}

// AuditLog represents a stored audit log record
type AuditLog struct {
	ID           int64                  `json:"id"`
	Timestamp    int64                  `json:"timestamp"`
	ActorID      string                 `json:"actor_id"`
	ActorName    string                 `json:"actor_name"`
	EventType    string                 `json:"event_type"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	ResourceName string                 `json:"resource_name"`
	Action       string                 `json:"action"`
	Status       string                 `json:"status"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	Details      map[string]interface{} `json:"details"`
}

// AuditLogFilters for querying logs
type AuditLogFilters struct {
	ActorID      string
	EventType    string
	ResourceType string
	ResourceID   string
	Action       string
	Status       string
	StartDate    int64 // Unix seconds, inclusive
	EndDate      int64 // Unix seconds, inclusive
	Page         int   // 1-based
	PageSize     int
}

// Store defines the interface for audit log storage
type Store interface {
	LogEvent(ctx context.Context, event *AuditEvent) error
	GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error)
	GetLogByID(ctx context.Context, id int64) (*AuditLog, error)
	// PurgeLogs deletes logs older than the given number of days
	PurgeLogs(ctx context.Context, olderThanDays int) (int, error)
	Close() error
}

// Actor identifies the caller of an administrative operation
type Actor struct {
	ID        string
	Name      string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor attaches the calling actor to ctx
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached to ctx
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
