package roles

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Handler serves the role administration endpoints.
type Handler struct {
	admin *Administration
}

func NewHandler(admin *Administration) *Handler {
	return &Handler{admin: admin}
}

// HandleList returns the catalog.
// GET /api/v1/roles?include_inactive=true
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	includeInactive := false
	if raw := r.URL.Query().Get("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			apperr.Write(w, apperr.Validation("include_inactive", "must be a boolean"))
			return
		}
		includeInactive = v
	}

	roles, err := h.admin.List(r.Context(), includeInactive, auth.GetPrincipal(r.Context()))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

// HandleGet returns one role.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	role, err := h.admin.Get(r.Context(), r.PathValue("name"), auth.GetPrincipal(r.Context()))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// HandleCreate creates a custom role.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
		return
	}

	role, err := h.admin.Create(r.Context(), req, auth.GetPrincipal(r.Context()))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// HandleUpdate patches the mutable fields of a role. An If-Match header
// carrying the expected version turns a stale write into VERSION_CONFLICT.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apperr.Write(w, apperr.Wrap(apperr.CodeValidation, err, "invalid request body"))
		return
	}
	version, err := ifMatch(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	patch.ExpectedVersion = version

	role, err := h.admin.Update(r.Context(), r.PathValue("name"), patch, auth.GetPrincipal(r.Context()))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// HandleDelete deletes a custom role.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), r.PathValue("name"), auth.GetPrincipal(r.Context())); err != nil {
		apperr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ifMatch(r *http.Request) (*int64, error) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.Validation("If-Match", "must be a role version")
	}
	return &v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
