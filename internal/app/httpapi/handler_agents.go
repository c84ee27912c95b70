package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	regdomain "github.com/cleanfleet/control-plane/internal/app/domain/registration"
)

func (h *handlers) registerAgentRoutes(r *mux.Router) {
	r.HandleFunc("/agents/register", h.registerAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/heartbeat", h.heartbeat).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/ack", h.ack).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/complete", h.complete).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/registration/approve", h.approveRegistration).Methods(http.MethodPost)
	r.HandleFunc("/agents", h.listAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", h.getAgent).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}", h.deleteAgent).Methods(http.MethodDelete)
	r.HandleFunc("/agents/{id}/stats", h.agentStats).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/report", h.agentReport).Methods(http.MethodGet)
}

func (h *handlers) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registrationRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := h.deps.Registration.ProcessRegistration(req.toDomain(time.Now().UTC()))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := registrationResponseDTO{Result: string(outcome.Result), Reason: outcome.Reason}
	if outcome.Result == regdomain.ResultAdmitted {
		resp.AgentID = outcome.Agent.Identity.ID
		resp.AuthToken = outcome.AuthToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) approveRegistration(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	outcome, err := h.deps.Registration.ApproveManualRegistration(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponseDTO{
		Result: string(outcome.Result), AgentID: outcome.Agent.Identity.ID, AuthToken: outcome.AuthToken,
	})
}

// agentAuth verifies the Bearer token against the agent registry rather
// than the user-facing Access Controller: agents carry a registration-
// issued auth token, not a signed JWT.
func (h *handlers) agentAuth(r *http.Request, id string) error {
	token := extractToken(r)
	if token == "" {
		return apperrors.InvalidToken()
	}
	gotID, err := h.deps.Registry.ValidateToken(token)
	if err != nil {
		return err
	}
	if gotID != id {
		return apperrors.InvalidToken()
	}
	return nil
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.agentAuth(r, id); err != nil {
		writeError(w, err)
		return
	}
	var req heartbeatRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.deps.Heartbeat.ProcessHeartbeat(id, req.toDomain(time.Now().UTC()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged":    resp.Acknowledged,
		"pendingPolicies": resp.PendingPolicies,
		"pendingCommands": resp.PendingCommands,
		"nextHeartbeat":   resp.NextHeartbeat.Seconds(),
	})
}

func (h *handlers) ack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.agentAuth(r, id); err != nil {
		writeError(w, err)
		return
	}
	var req ackRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Distributor.Acknowledge(req.DistributionID, id, req.Version); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "acknowledged"})
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.agentAuth(r, id); err != nil {
		writeError(w, err)
		return
	}
	var req completeRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Distributor.CompleteAgent(r.Context(), req.DistributionID, id, req.Success, req.Error); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "recorded"})
}

func (h *handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	rows := h.deps.Registry.AllAgents()
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, agentToDTO(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	row, ok := h.deps.Registry.AgentByID(id)
	if !ok {
		writeError(w, apperrors.AgentNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, agentToDTO(row))
}

func (h *handlers) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Registry.Unregister(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "unregistered"})
}

func (h *handlers) agentStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stats, ok := h.deps.Heartbeat.StatsFor(id)
	if !ok {
		writeError(w, apperrors.AgentNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalHeartbeats": stats.TotalHeartbeats,
		"firstSeen":       stats.FirstSeen,
		"lastSeen":        stats.LastSeen,
		"meanInterval":    stats.MeanInterval.Seconds(),
	})
}

func (h *handlers) agentReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, err := h.deps.Reporter.GenerateAgentReport(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
