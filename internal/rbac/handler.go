package rbac

import (
	"encoding/json"
	"net/http"

	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Handler exposes the caller's own authorization state.
type Handler struct {
	evaluator *Evaluator
}

func NewHandler(e *Evaluator) *Handler {
	return &Handler{evaluator: e}
}

// HandleMyPermissions returns the effective permissions of the caller. A
// role that no longer resolves yields an empty set rather than an error.
// GET /api/v1/me/permissions
func (h *Handler) HandleMyPermissions(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	if p == nil {
		apperr.Write(w, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
		return
	}

	perms := []string{}
	resolved := false
	if set, err := h.evaluator.EffectivePermissions(r.Context(), p); err == nil {
		perms = set.Sorted()
		resolved = true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id":       p.UserID,
		"role":          p.Role,
		"hierarchy":     p.Hierarchy,
		"role_resolved": resolved,
		"permissions":   perms,
	})
}
