package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// DocumentInput describes a document being added. New documents are always
// unverified.
type DocumentInput struct {
	Type           DocumentType `json:"type" validate:"required,oneof=passport drivers_license national_id residence_permit utility_bill other"`
	Number         string       `json:"number" validate:"required,max=64"`
	IssuingCountry string       `json:"issuing_country" validate:"omitempty,iso3166_1_alpha2"`
	IssueDate      string       `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate     string       `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
}

// Ledger records document verification outcomes. It never changes the
// profile's KYC status.
type Ledger struct {
	evaluator *rbac.Evaluator
}

func NewLedger(evaluator *rbac.Evaluator) *Ledger {
	return &Ledger{evaluator: evaluator}
}

// Verify sets or clears the verification of one document. Re-verifying
// refreshes the timestamp and actor.
func (l *Ledger) Verify(ctx context.Context, p Profile, documentID uuid.UUID, verified bool, actor *auth.Principal, now time.Time) (Profile, error) {
	if !l.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return Profile{}, apperr.Denied("verifying documents requires %s", rbac.PermKYCManage)
	}
	if !p.Active() {
		return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is deactivated", p.UserID)
	}

	next := p.Clone()
	for i := range next.Documents {
		if next.Documents[i].ID == documentID {
			next.Documents[i].Verification.set(verified, actor.UserID, now)
			next.UpdatedAt = now.UTC()
			return next, nil
		}
	}
	return Profile{}, apperr.Wrap(apperr.CodeNotFound, ErrDocumentNotFound, "document %s not found", documentID)
}

// Add appends a new unverified document. The owner or a kyc:manage holder
// may add documents.
func (l *Ledger) Add(ctx context.Context, p Profile, in DocumentInput, actor *auth.Principal, now time.Time) (Profile, IdentityDocument, error) {
	if !canEdit(ctx, l.evaluator, p.UserID, actor) {
		return Profile{}, IdentityDocument{}, apperr.Denied("adding documents requires ownership or %s", rbac.PermKYCManage)
	}
	if !p.Active() {
		return Profile{}, IdentityDocument{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is deactivated", p.UserID)
	}
	if strings.TrimSpace(in.Number) == "" {
		return Profile{}, IdentityDocument{}, apperr.Validation("number", "is required")
	}

	doc := IdentityDocument{
		ID:             uuid.New(),
		Type:           in.Type,
		Number:         strings.TrimSpace(in.Number),
		IssuingCountry: strings.ToUpper(in.IssuingCountry),
		IssueDate:      in.IssueDate,
		ExpiryDate:     in.ExpiryDate,
		AddedAt:        now.UTC(),
		AddedBy:        actor.UserID,
	}
	next := p.Clone()
	next.Documents = append(next.Documents, doc)
	next.UpdatedAt = now.UTC()
	return next, doc, nil
}

// canEdit is the owner-or-admin gate for subscriber data. The owner needs
// profile:edit so that an unknown or inactive role still fails closed.
func canEdit(ctx context.Context, e *rbac.Evaluator, ownerID string, actor *auth.Principal) bool {
	if actor == nil {
		return false
	}
	if actor.UserID == ownerID && e.Can(ctx, actor, rbac.PermProfileEdit) {
		return true
	}
	return e.Can(ctx, actor, rbac.PermKYCManage)
}
