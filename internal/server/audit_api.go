package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maxiofs/storehub/internal/audit"
)

// AuditLogsResponse is a page of audit records
type AuditLogsResponse struct {
	Logs     []*audit.AuditLog `json:"logs"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditManager == nil {
		s.writeError(w, "audit logging is disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	filters := &audit.AuditLogFilters{
		ActorID:      query.Get("actor_id"),
		EventType:    query.Get("event_type"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Action:       query.Get("action"),
		Status:       query.Get("status"),
	}

	var err error
	if filters.StartDate, err = parseInt64Param(query.Get("start_date")); err != nil {
		s.writeError(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	if filters.EndDate, err = parseInt64Param(query.Get("end_date")); err != nil {
		s.writeError(w, "invalid end_date", http.StatusBadRequest)
		return
	}
	if page, err := parseInt64Param(query.Get("page")); err == nil {
		filters.Page = int(page)
	}
	if pageSize, err := parseInt64Param(query.Get("page_size")); err == nil {
		filters.PageSize = int(pageSize)
	}

	logs, total, err := s.auditManager.GetLogs(r.Context(), filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*audit.AuditLog{}
	}

	s.writeJSON(w, AuditLogsResponse{
		Logs:     logs,
		Total:    total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	})
}

func (s *Server) handleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.auditManager == nil {
		s.writeError(w, "audit logging is disabled", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, "invalid audit log id", http.StatusBadRequest)
		return
	}

	log, err := s.auditManager.GetLogByID(r.Context(), id)
	if errors.Is(err, audit.ErrLogNotFound) {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, log)
}

func parseInt64Param(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
