package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/domain/audit"
	"github.com/cleanfleet/control-plane/internal/app/services/auditstore"
)

func (h *handlers) registerAuditRoutes(r *mux.Router) {
	r.HandleFunc("/audit", h.queryAudit).Methods(http.MethodGet)
	r.HandleFunc("/audit/export", h.exportAudit).Methods(http.MethodGet)
	r.HandleFunc("/admin/users/{id}/deactivate", h.deactivateUser).Methods(http.MethodPost)
}

func auditQueryFromRequest(r *http.Request) audit.Query {
	q := r.URL.Query()
	var query audit.Query
	if v := q.Get("category"); v != "" {
		c := audit.Category(v)
		query.Category = &c
	}
	if v := q.Get("result"); v != "" {
		res := audit.Result(v)
		query.Result = &res
	}
	if v := q.Get("severity"); v != "" {
		sev := audit.Severity(v)
		query.Severity = &sev
	}
	query.SessionID = q.Get("sessionId")
	query.ActorContains = q.Get("actor")
	query.Since = parseOptionalTime(r, "since")
	query.Until = parseOptionalTime(r, "until")
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	query.Ascending = q.Get("order") == "asc"
	return query
}

func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	events := h.deps.AuditStore.Query(auditQueryFromRequest(r))
	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventToDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) exportAudit(w http.ResponseWriter, r *http.Request) {
	events := h.deps.AuditStore.Query(auditQueryFromRequest(r))

	switch r.URL.Query().Get("format") {
	case "csv":
		data, err := auditstore.ExportCSV(events)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case "jsonl":
		data, err := auditstore.ExportJSONL(events)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		data, err := auditstore.ExportJSON(events)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func (h *handlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Accounts.Deactivate(id); err != nil {
		writeError(w, err)
		return
	}
	h.deps.Access.InvalidateSession(id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deactivated"})
}
