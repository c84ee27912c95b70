package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/services/compliance"
)

func (h *handlers) registerReportRoutes(r *mux.Router) {
	r.HandleFunc("/fleet/overview", h.fleetOverview).Methods(http.MethodGet)
	r.HandleFunc("/fleet/overview/export", h.fleetOverviewExport).Methods(http.MethodGet)
	r.HandleFunc("/fleet/audit-summary", h.fleetAuditSummary).Methods(http.MethodGet)
	r.HandleFunc("/distributions/{id}/report", h.distributionReport).Methods(http.MethodGet)
}

func parseOptionalTime(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func (h *handlers) fleetOverview(w http.ResponseWriter, r *http.Request) {
	start := parseOptionalTime(r, "periodStart")
	end := parseOptionalTime(r, "periodEnd")
	report := h.deps.Reporter.GenerateFleetOverview(start, end)
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) fleetOverviewExport(w http.ResponseWriter, r *http.Request) {
	start := parseOptionalTime(r, "periodStart")
	end := parseOptionalTime(r, "periodEnd")
	report := h.deps.Reporter.GenerateFleetOverview(start, end)

	if r.URL.Query().Get("format") == "csv" {
		data, err := compliance.ExportFleetOverviewCSV(report)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	data, err := compliance.ExportJSON(report)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handlers) fleetAuditSummary(w http.ResponseWriter, r *http.Request) {
	start := parseOptionalTime(r, "start")
	end := parseOptionalTime(r, "end")
	if start == nil || end == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "start and end query parameters are required"})
		return
	}
	summary, err := h.deps.Reporter.GenerateAuditLogSummary(*start, *end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) distributionReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.deps.Reporter.GeneratePolicyExecutionReport(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		data, err := compliance.ExportPolicyExecutionCSV(report)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
