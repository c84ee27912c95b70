package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cleanfleet/control-plane/internal/app/services/policyvalidator"
)

func (h *handlers) registerPolicyRoutes(r *mux.Router) {
	r.HandleFunc("/policies", h.listPolicies).Methods(http.MethodGet)
	r.HandleFunc("/policies", h.savePolicy).Methods(http.MethodPost)
	r.HandleFunc("/policies/import", h.importPolicy).Methods(http.MethodPost)
	r.HandleFunc("/policies/{name}", h.getPolicy).Methods(http.MethodGet)
	r.HandleFunc("/policies/{name}", h.savePolicyNamed).Methods(http.MethodPut)
	r.HandleFunc("/policies/{name}", h.deletePolicy).Methods(http.MethodDelete)
	r.HandleFunc("/policies/{name}/export", h.exportPolicy).Methods(http.MethodGet)
	r.HandleFunc("/policies/{name}/validate", h.validatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/policies/{name}/history", h.policyHistory).Methods(http.MethodGet)
}

func (h *handlers) listPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.PolicyStore.List()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]policyDTO, 0, len(list))
	for _, p := range list {
		out = append(out, policyToDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, err := h.deps.PolicyStore.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToDTO(p))
}

func (h *handlers) savePolicy(w http.ResponseWriter, r *http.Request) {
	h.doSave(w, r, "")
}

func (h *handlers) savePolicyNamed(w http.ResponseWriter, r *http.Request) {
	h.doSave(w, r, mux.Vars(r)["name"])
}

func (h *handlers) doSave(w http.ResponseWriter, r *http.Request, pathName string) {
	var dto policyDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}
	if pathName != "" {
		dto.Name = pathName
	}
	saved, err := h.deps.PolicyStore.Save(dto.toDomain(), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToDTO(saved))
}

func (h *handlers) deletePolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.deps.PolicyStore.Delete(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (h *handlers) exportPolicy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	data, err := h.deps.PolicyStore.Export(name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handlers) importPolicy(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.deps.PolicyStore.Import(blob)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToDTO(p))
}

func (h *handlers) validatePolicy(w http.ResponseWriter, r *http.Request) {
	var dto policyDTO
	if err := decodeJSON(r, &dto); err != nil {
		writeError(w, err)
		return
	}
	result := policyvalidator.Validate(dto.toDomain())
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) policyHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	history := h.deps.Distributor.History(name)
	out := make([]map[string]interface{}, 0, len(history))
	for _, s := range history {
		out = append(out, distributionStatusToDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}
