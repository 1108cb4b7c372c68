// Package audit records domain events. Every sink is fire-and-forget: a
// failed or slow sink never blocks or rolls back the operation that
// produced the event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/kycgate/internal/auth"
)

// Event represents a single auditable action in the system.
type Event struct {
	ID           uuid.UUID      `json:"id"`
	ActorID      string         `json:"actor_id,omitempty"` // empty for system events
	Action       string         `json:"action"`             // e.g. "kyc.status.changed", "access.denied"
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Source       string         `json:"source"` // "api", "system"
	OccurredAt   time.Time      `json:"occurred_at"`
}

const (
	ActionKYCStatusChanged      = "kyc.status.changed"
	ActionKYCProfileCreated     = "kyc.profile.created"
	ActionKYCProfileUpdated     = "kyc.profile.updated"
	ActionKYCProfileDeactivated = "kyc.profile.deactivated"
	ActionKYCRiskScored         = "kyc.risk.scored"
	ActionDocumentAdded         = "document.added"
	ActionDocumentVerified      = "document.verified"

	ActionRoleCreated = "role.created"
	ActionRoleUpdated = "role.updated"
	ActionRoleDeleted = "role.deleted"

	ActionAccessDenied = "access.denied"
)

const (
	ResourceKYCProfile = "kyc_profile"
	ResourceDocument   = "identity_document"
	ResourceRole       = "role"
)

const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

const (
	MetadataFrom       = "from"
	MetadataTo         = "to"
	MetadataReason     = "reason"
	MetadataVerified   = "verified"
	MetadataProfileID  = "profile_id"
	MetadataPermission = "permission"
	MetadataRequestID  = "request_id"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext returns the authenticated principal's user id, or ""
// when the request is unauthenticated.
func ActorIDFromContext(ctx context.Context) string {
	p := auth.GetPrincipal(ctx)
	if p == nil {
		return ""
	}
	return p.UserID
}

// stamp fills in the id and timestamp a sink needs before the event leaves
// the caller's goroutine.
func stamp(e Event, now time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	if e.Source == "" {
		e.Source = SourceAPI
	}
	return e
}
