package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Reader queries recorded events.
type Reader interface {
	ListEvents(ctx context.Context, p ListEventsParams) ([]Event, error)
}

// Handler serves audit query endpoints.
type Handler struct {
	reader Reader
}

// NewHandler creates an audit query handler. A nil reader serves an empty list.
func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// HandleListEvents returns recent audit events.
// GET /api/v1/audit/events?limit=50&action=role.deleted&after=<RFC3339>
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	if h.reader == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []Event{}, "count": 0})
		return
	}

	events, err := h.reader.ListEvents(r.Context(), params)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func parseListParams(r *http.Request) (ListEventsParams, error) {
	q := r.URL.Query()
	p := ListEventsParams{Limit: 50}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			return p, apperr.Validation("limit", "must be between 1 and 200")
		}
		p.Limit = n
	}

	for key, dst := range map[string]**string{
		"action":        &p.Action,
		"resource_type": &p.ResourceType,
		"resource_id":   &p.ResourceID,
		"actor_id":      &p.ActorID,
		"source":        &p.Source,
	} {
		if v := q.Get(key); v != "" {
			*dst = &v
		}
	}

	for key, dst := range map[string]**time.Time{"after": &p.After, "before": &p.Before} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return p, apperr.Validation(key, "must be an RFC3339 timestamp")
		}
		*dst = &t
	}

	return p, nil
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
