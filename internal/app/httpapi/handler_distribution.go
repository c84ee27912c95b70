package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
)

func (h *handlers) registerDistributionRoutes(r *mux.Router) {
	r.HandleFunc("/distributions", h.distribute).Methods(http.MethodPost)
	r.HandleFunc("/distributions/{id}", h.distributionStatus).Methods(http.MethodGet)
	r.HandleFunc("/distributions/{id}/cancel", h.cancelDistribution).Methods(http.MethodPost)
}

func (h *handlers) distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pol, err := h.deps.PolicyStore.Get(req.PolicyName)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.deps.Distributor.Distribute(r.Context(), req.PolicyName, pol, req.toTarget())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"distributionId": id})
}

func (h *handlers) distributionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, ok := h.deps.Distributor.Status(id)
	if !ok {
		writeError(w, apperrors.DistributionNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, distributionStatusToDTO(status))
}

func (h *handlers) cancelDistribution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Distributor.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cancelled"})
}
