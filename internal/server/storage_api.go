package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maxiofs/storehub/internal/audit"
	"github.com/maxiofs/storehub/internal/backend"
	"github.com/maxiofs/storehub/internal/connectivity"
	"github.com/maxiofs/storehub/internal/dispatch"
	"github.com/maxiofs/storehub/internal/policy"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/internal/routing"
	"github.com/sirupsen/logrus"
)

// maxAdminBody bounds JSON request bodies on the admin API
const maxAdminBody = 1 << 20

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RotatedKeyResponse describes a new key version; the key itself is never returned
type RotatedKeyResponse struct {
	ProviderID string `json:"provider_id"`
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	Version    int    `json:"version"`
}

func views(providers []*provider.StorageProvider) []provider.ProviderView {
	out := make([]provider.ProviderView, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.View())
	}
	return out
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, views(s.registry.List()))
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, provider.Kinds())
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, p.View())
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req provider.CreateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	p, err := s.registry.Create(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logAudit(r, &audit.AuditEvent{
		EventType:    audit.EventTypeProviderCreated,
		ResourceType: audit.ResourceTypeProvider,
		ResourceID:   p.ID,
		ResourceName: p.Name,
		Action:       audit.ActionCreate,
		Status:       audit.StatusSuccess,
		Details: map[string]interface{}{
			"kind":             string(p.Kind),
			"is_enabled":       p.IsEnabled,
			"routing_priority": p.RoutingPriority,
		},
	})

	s.writeJSONStatus(w, p.View(), http.StatusCreated)
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch provider.Patch
	if !s.decodeBody(w, r, &patch) {
		return
	}
	if patch.Empty() {
		s.writeError(w, "patch contains no changes", http.StatusBadRequest)
		return
	}

	before, err := s.registry.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	updated, changed, err := s.registry.UpsertFields(r.Context(), id, patch)
	if err != nil {
		s.logAudit(r, &audit.AuditEvent{
			EventType:    audit.EventTypeProviderUpdated,
			ResourceType: audit.ResourceTypeProvider,
			ResourceID:   id,
			ResourceName: before.Name,
			Action:       audit.ActionUpdate,
			Status:       audit.StatusFailed,
			Details:      map[string]interface{}{"error": err.Error()},
		})
		s.writeDomainError(w, err)
		return
	}

	s.logAudit(r, &audit.AuditEvent{
		EventType:    audit.EventTypeProviderUpdated,
		ResourceType: audit.ResourceTypeProvider,
		ResourceID:   updated.ID,
		ResourceName: updated.Name,
		Action:       audit.ActionUpdate,
		Status:       audit.StatusSuccess,
		Details: map[string]interface{}{
			"changed_fields": changed,
			"before":         before.View(),
			"after":          updated.View(),
		},
	})

	s.writeJSON(w, updated.View())
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, previous, err := s.registry.SetDefault(r.Context(), id)
	if err != nil {
		if provider.IsPreconditionFailed(err) {
			s.logAudit(r, &audit.AuditEvent{
				EventType:    audit.EventTypeProviderDefaultChanged,
				ResourceType: audit.ResourceTypeProvider,
				ResourceID:   id,
				Action:       audit.ActionSetDefault,
				Status:       audit.StatusFailed,
				Details:      map[string]interface{}{"error": err.Error()},
			})
		}
		s.writeDomainError(w, err)
		return
	}

	if previous != p.ID {
		s.logAudit(r, &audit.AuditEvent{
			EventType:    audit.EventTypeProviderDefaultChanged,
			ResourceType: audit.ResourceTypeProvider,
			ResourceID:   p.ID,
			ResourceName: p.Name,
			Action:       audit.ActionSetDefault,
			Status:       audit.StatusSuccess,
			Details:      map[string]interface{}{"previous_default": previous},
		})
	}

	s.writeJSON(w, p.View())
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := s.validator.TestConnection(r.Context(), id)
	if result == nil {
		s.writeDomainError(w, err)
		return
	}

	event := &audit.AuditEvent{
		EventType:    audit.EventTypeProviderTested,
		ResourceType: audit.ResourceTypeProvider,
		ResourceID:   id,
		Action:       audit.ActionTest,
		Status:       audit.StatusSuccess,
		Details:      map[string]interface{}{"latency_ms": result.LatencyMs},
	}
	if err != nil {
		event.Status = audit.StatusFailed
		event.Details["reason"] = result.Reason
	}
	s.logAudit(r, event)

	if err != nil {
		s.writeResponse(w, APIResponse{Success: false, Data: result, Error: result.Reason}, http.StatusBadGateway)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	key, err := s.tracker.RotateKey(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, RotatedKeyResponse{
		ProviderID: id,
		KeyID:      key.KeyID,
		Algorithm:  string(key.Algorithm),
		Version:    key.Version,
	})
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.usageStats.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleStorageHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.validator.CheckAll(r.Context()))
}

func (s *Server) handleRoutePreview(w http.ResponseWriter, r *http.Request) {
	var candidate routing.Candidate
	if !s.decodeBody(w, r, &candidate) {
		return
	}

	plan, err := s.dispatcher.Plan(candidate)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, plan)
}

func (s *Server) handleUploadObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	size := r.ContentLength
	if size < 0 {
		size = routing.UnknownSize
	}

	result, err := s.dispatcher.Upload(r.Context(), dispatch.Request{
		Key:         key,
		ContentType: r.Header.Get("Content-Type"),
		Size:        size,
		Body:        r.Body,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if result.ETag != "" {
		w.Header().Set("ETag", `"`+result.ETag+`"`)
	}
	s.writeJSONStatus(w, result, http.StatusCreated)
}

// decodeBody decodes a JSON body into v, writing a 400 on failure
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(v); err != nil {
		var ve *provider.ValidationError
		if errors.As(err, &ve) {
			s.writeError(w, ve.Error(), http.StatusBadRequest)
			return false
		}
		s.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) logAudit(r *http.Request, event *audit.AuditEvent) {
	if err := s.auditManager.LogEvent(r.Context(), event); err != nil {
		logrus.WithError(err).WithField("event_type", event.EventType).Warn("Failed to record audit event")
	}
}

// writeDomainError maps domain errors to HTTP status codes. Unexpected
// errors are logged and reported without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var connErr *connectivity.ConnectionError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.Is(err, provider.ErrNotFound):
		s.writeError(w, err.Error(), http.StatusNotFound)
	case provider.IsValidation(err):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case provider.IsPreconditionFailed(err):
		s.writeError(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, policy.ErrConfiguredKey):
		s.writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &connErr):
		s.writeError(w, connErr.Reason, http.StatusBadGateway)
	case errors.Is(err, backend.ErrEndpointRequired):
		s.writeError(w, "storage provider has no endpoint configured", http.StatusBadGateway)
	case errors.Is(err, provider.ErrNoProviderAvailable):
		s.writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, backend.ErrInvalidKey), errors.Is(err, dispatch.ErrSizeMismatch):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrTooLarge), errors.As(err, &tooLarge):
		s.writeError(w, "upload exceeds maximum size", http.StatusRequestEntityTooLarge)
	default:
		logrus.WithError(err).Error("Internal error while handling request")
		s.writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, data, http.StatusOK)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, data interface{}, statusCode int) {
	s.writeResponse(w, APIResponse{Success: true, Data: data}, statusCode)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeResponse(w, APIResponse{Success: false, Error: message}, statusCode)
	logrus.WithField("error", message).WithField("status", statusCode).Warn("API error")
}

func (s *Server) writeResponse(w http.ResponseWriter, resp APIResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
