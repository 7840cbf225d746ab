package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager handles audit logging operations. A nil *Manager discards events,
// which is how auditing is switched off.
type Manager struct {
	store  Store
	logger *logrus.Logger
}

// NewManager creates a new audit manager
func NewManager(store Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// LogEvent records an audit event. Actor fields missing on the event are
// taken from the context, falling back to the system actor.
func (m *Manager) LogEvent(ctx context.Context, event *AuditEvent) error {
	if m == nil {
		return nil
	}
	if event == nil {
		m.logger.Warn("Attempted to log nil audit event")
		return nil
	}

	if actor, ok := ActorFromContext(ctx); ok {
		if event.ActorID == "" {
			event.ActorID = actor.ID
			event.ActorName = actor.Name
		}
		if event.IPAddress == "" {
			event.IPAddress = actor.IPAddress
		}
		if event.UserAgent == "" {
			event.UserAgent = actor.UserAgent
		}
	}
	if event.ActorID == "" {
		event.ActorID = SystemActor
		event.ActorName = SystemActor
	}

	if event.EventType == "" {
		m.logger.Warn("Audit event missing required EventType field")
		return nil
	}
	if event.Action == "" {
		m.logger.Warn("Audit event missing required Action field")
		return nil
	}
	if event.Status == "" {
		m.logger.Warn("Audit event missing required Status field")
		return nil
	}

	if err := m.store.LogEvent(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"actor_id":   event.ActorID,
			"action":     event.Action,
			"status":     event.Status,
		}).Error("Failed to log audit event")
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"event_type":    event.EventType,
		"actor_id":      event.ActorID,
		"action":        event.Action,
		"status":        event.Status,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
	}).Debug("Audit event logged")

	return nil
}

// GetLogs retrieves audit logs with filters and clamped pagination
func (m *Manager) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	if m == nil {
		return nil, 0, nil
	}
	if filters == nil {
		filters = &AuditLogFilters{}
	}

	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = 50
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}

	logs, total, err := m.store.GetLogs(ctx, filters)
	if err != nil {
		m.logger.WithError(err).Error("Failed to retrieve audit logs")
		return nil, 0, err
	}
	return logs, total, nil
}

// GetLogByID retrieves a single log entry
func (m *Manager) GetLogByID(ctx context.Context, id int64) (*AuditLog, error) {
	if m == nil {
		return nil, ErrLogNotFound
	}
	return m.store.GetLogByID(ctx, id)
}

// PurgeLogs deletes logs older than the given number of days
func (m *Manager) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	if m == nil {
		return 0, nil
	}
	if olderThanDays <= 0 {
		m.logger.Warn("Invalid retention days for purge operation")
		return 0, nil
	}

	count, err := m.store.PurgeLogs(ctx, olderThanDays)
	if err != nil {
		m.logger.WithError(err).WithField("retention_days", olderThanDays).Error("Failed to purge old audit logs")
		return 0, err
	}
	return count, nil
}

// StartRetentionJob purges old logs on startup and then once a day until ctx ends
func (m *Manager) StartRetentionJob(ctx context.Context, retentionDays int) {
	if m == nil {
		return
	}
	if retentionDays <= 0 {
		m.logger.Info("Audit log retention disabled (retention_days <= 0)")
		return
	}

	m.logger.WithField("retention_days", retentionDays).Info("Starting audit log retention job")

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		m.runRetentionCleanup(ctx, retentionDays)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Stopping audit log retention job")
				return
			case <-ticker.C:
				m.runRetentionCleanup(ctx, retentionDays)
			}
		}
	}()
}

func (m *Manager) runRetentionCleanup(ctx context.Context, retentionDays int) {
	count, err := m.PurgeLogs(ctx, retentionDays)
	if err != nil {
		return
	}
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"deleted_count":  count,
			"retention_days": retentionDays,
		}).Info("Audit log retention cleanup completed")
	}
}

// Close closes the underlying store
func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}
