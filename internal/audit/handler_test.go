package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listResponse struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

func TestHandleListEvents_NilReader(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestHandleListEvents_FromRecorder(t *testing.T) {
	rec := NewRecorder(10)
	ctx := context.Background()
	rec.Log(ctx, Event{Action: ActionRoleCreated, ResourceID: "auditor"})
	rec.Log(ctx, Event{Action: ActionRoleDeleted, ResourceID: "auditor"})
	rec.Log(ctx, Event{Action: ActionKYCStatusChanged, ResourceID: "user-1"})

	h := NewHandler(rec)

	req := httptest.NewRequest("GET", "/api/v1/audit/events?resource_id=auditor", nil)
	w := httptest.NewRecorder()
	h.HandleListEvents(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, ActionRoleDeleted, body.Events[0].Action, "newest first")
	assert.Equal(t, ActionRoleCreated, body.Events[1].Action)
}

func TestHandleListEvents_WithLimit(t *testing.T) {
	rec := NewRecorder(10)
	for range 5 {
		rec.Log(context.Background(), Event{Action: ActionAccessDenied})
	}
	h := NewHandler(rec)

	req := httptest.NewRequest("GET", "/api/v1/audit/events?limit=2", nil)
	w := httptest.NewRecorder()
	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestHandleListEvents_InvalidLimit(t *testing.T) {
	h := NewHandler(nil)
	for _, limit := range []string{"0", "201", "ten"} {
		req := httptest.NewRequest("GET", "/api/v1/audit/events?limit="+limit, nil)
		w := httptest.NewRecorder()
		h.HandleListEvents(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}
}

func TestHandleListEvents_InvalidTimestamp(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest("GET", "/api/v1/audit/events?before=yesterday", nil)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"before"`)
}

func TestHandleListEvents_ComposedFilters(t *testing.T) {
	rec := NewRecorder(10)
	rec.Log(context.Background(), Event{Action: ActionRoleCreated, ResourceType: ResourceRole, Source: SourceAPI})
	rec.Log(context.Background(), Event{Action: ActionRoleCreated, ResourceType: ResourceRole, Source: SourceSystem})
	h := NewHandler(rec)

	req := httptest.NewRequest("GET",
		"/api/v1/audit/events?action=role.created&resource_type=role&source=api&limit=25",
		nil,
	)
	w := httptest.NewRecorder()

	h.HandleListEvents(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}
