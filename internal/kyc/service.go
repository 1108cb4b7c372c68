package kyc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// Option configures a Service.
type Option func(*Service)

func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithViewHierarchy sets the minimum hierarchy allowed to read another
// user's profile.
func WithViewHierarchy(level int) Option {
	return func(s *Service) { s.viewHierarchy = level }
}

// WithApprovalValidity sets how long an approval lasts before ExpireDue
// expires it.
func WithApprovalValidity(d time.Duration) Option {
	return func(s *Service) { s.approvalValidity = d }
}

// MutationOption adjusts a single service call.
type MutationOption func(*mutation)

type mutation struct {
	expectedVersion *int64
}

// IfVersion fails the call with VERSION_CONFLICT unless the stored profile
// is at version v.
func IfVersion(v int64) MutationOption {
	return func(m *mutation) { m.expectedVersion = &v }
}

// Service applies KYC operations to stored profiles. Every mutation runs on
// the freshest profile under the per-profile lock, and every event is
// emitted after the write succeeds.
type Service struct {
	store     Store
	evaluator *rbac.Evaluator
	machine   *StatusMachine
	ledger    *Ledger

	audit            audit.Logger
	metrics          *telemetry.Metrics
	logger           *slog.Logger
	now              func() time.Time
	viewHierarchy    int
	approvalValidity time.Duration
}

func NewService(store Store, evaluator *rbac.Evaluator, opts ...Option) *Service {
	s := &Service{
		store:            store,
		evaluator:        evaluator,
		machine:          NewStatusMachine(evaluator),
		ledger:           NewLedger(evaluator),
		audit:            audit.NopLogger{},
		logger:           slog.Default(),
		now:              time.Now,
		viewHierarchy:    5,
		approvalValidity: 365 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProfileInput carries the subscriber-editable sections. A nil section is
// left unchanged.
type ProfileInput struct {
	Personal   *PersonalInfo     `json:"personal_info"`
	Contact    *ContactInfo      `json:"contact_info"`
	Employment *Employment       `json:"employment"`
	Financial  *FinancialProfile `json:"financial_profile"`
}

// Get returns the profile of userID to its owner, to actors at or above the
// view hierarchy, and to kyc:manage holders.
func (s *Service) Get(ctx context.Context, userID string, actor *auth.Principal) (Profile, error) {
	if !s.canView(ctx, userID, actor) {
		return Profile{}, apperr.Denied("viewing this profile is not allowed")
	}
	p, err := s.store.Load(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	p.Completion = ComputeCompletion(p)
	return p, nil
}

func (s *Service) canView(ctx context.Context, userID string, actor *auth.Principal) bool {
	if actor == nil {
		return false
	}
	if actor.UserID == userID && s.evaluator.Can(ctx, actor, rbac.PermProfileView) {
		return true
	}
	return s.evaluator.HierarchyAtLeast(ctx, actor, s.viewHierarchy) ||
		s.evaluator.Can(ctx, actor, rbac.PermKYCManage)
}

// UpsertProfile writes the personal sections, creating the profile on first
// write. The owner's first write also moves it from not_started to
// in_progress.
func (s *Service) UpsertProfile(ctx context.Context, userID string, in ProfileInput, actor *auth.Principal, opts ...MutationOption) (Profile, error) {
	if !canEdit(ctx, s.evaluator, userID, actor) {
		return Profile{}, apperr.Denied("editing this profile requires ownership or %s", rbac.PermKYCManage)
	}
	m := applyMutationOptions(opts)

	var created, started bool
	p, err := s.store.Update(ctx, userID, func(current Profile, found bool) (Profile, error) {
		now := s.now()
		if !found {
			current = NewProfile(userID, now)
		} else if err := m.check(current); err != nil {
			return Profile{}, err
		}
		created = !found
		if !current.Active() {
			return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is deactivated", userID)
		}

		next := current.Clone()
		applyInput(&next, in)
		next.UpdatedAt = now.UTC()

		if actor.UserID == userID && next.KYC.Status == StatusNotStarted {
			moved, err := s.machine.Transition(ctx, next, StatusInProgress, actor, TransitionOptions{At: now})
			if err != nil {
				return Profile{}, err
			}
			next = moved
			started = true
		}
		next.Completion = ComputeCompletion(next)
		return next, nil
	})
	if err != nil {
		return Profile{}, err
	}

	if created {
		s.emit(ctx, actor, audit.ActionKYCProfileCreated, p, nil)
	} else {
		s.emit(ctx, actor, audit.ActionKYCProfileUpdated, p, nil)
	}
	if started {
		s.metrics.ObserveTransition(string(StatusInProgress), telemetry.Result(nil))
		s.emit(ctx, actor, audit.ActionKYCStatusChanged, p, map[string]any{
			audit.MetadataFrom: string(StatusNotStarted),
			audit.MetadataTo:   string(StatusInProgress),
		})
	}
	return p, nil
}

// AddDocument appends an unverified identity document, creating the profile
// when needed.
func (s *Service) AddDocument(ctx context.Context, userID string, in DocumentInput, actor *auth.Principal, opts ...MutationOption) (Profile, IdentityDocument, error) {
	if !canEdit(ctx, s.evaluator, userID, actor) {
		return Profile{}, IdentityDocument{}, apperr.Denied("adding documents requires ownership or %s", rbac.PermKYCManage)
	}
	m := applyMutationOptions(opts)

	var (
		doc     IdentityDocument
		created bool
	)
	p, err := s.store.Update(ctx, userID, func(current Profile, found bool) (Profile, error) {
		now := s.now()
		if !found {
			current = NewProfile(userID, now)
		} else if err := m.check(current); err != nil {
			return Profile{}, err
		}
		created = !found

		next, added, err := s.ledger.Add(ctx, current, in, actor, now)
		if err != nil {
			return Profile{}, err
		}
		doc = added
		next.Completion = ComputeCompletion(next)
		return next, nil
	})
	if err != nil {
		return Profile{}, IdentityDocument{}, err
	}

	if created {
		s.emit(ctx, actor, audit.ActionKYCProfileCreated, p, nil)
	}
	s.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       audit.ActionDocumentAdded,
		ResourceType: audit.ResourceDocument,
		ResourceID:   doc.ID.String(),
		Metadata: map[string]any{
			audit.MetadataProfileID: p.ID.String(),
			"type":                  string(doc.Type),
		},
		Source: audit.SourceAPI,
	})
	return p, doc, nil
}

// VerifyDocument records a verification outcome for one document.
func (s *Service) VerifyDocument(ctx context.Context, userID string, documentID uuid.UUID, verified bool, actor *auth.Principal, opts ...MutationOption) (Profile, error) {
	if !s.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return Profile{}, apperr.Denied("verifying documents requires %s", rbac.PermKYCManage)
	}
	m := applyMutationOptions(opts)
	p, err := s.update(ctx, userID, m, func(current Profile) (Profile, error) {
		return s.ledger.Verify(ctx, current, documentID, verified, actor, s.now())
	})
	if err != nil {
		return Profile{}, err
	}

	s.metrics.ObserveVerification(verified)
	s.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       audit.ActionDocumentVerified,
		ResourceType: audit.ResourceDocument,
		ResourceID:   documentID.String(),
		Metadata: map[string]any{
			audit.MetadataProfileID: p.ID.String(),
			audit.MetadataVerified:  verified,
		},
		Source: audit.SourceAPI,
	})
	return p, nil
}

// Transition moves the profile of userID to status to. A losing racer sees
// the winner's state and fails with INVALID_TRANSITION.
func (s *Service) Transition(ctx context.Context, userID string, to Status, topts TransitionOptions, actor *auth.Principal, opts ...MutationOption) (Profile, error) {
	// Only the owner can hold the self-edge without kyc:manage; everyone
	// else is refused before the profile is read.
	if actor == nil || (actor.UserID != userID && !s.evaluator.Can(ctx, actor, rbac.PermKYCManage)) {
		s.metrics.ObserveTransition(string(to), string(apperr.CodePermissionDenied))
		return Profile{}, apperr.Denied("transition to %s requires %s", to, rbac.PermKYCManage)
	}
	m := applyMutationOptions(opts)
	var from Status
	p, err := s.update(ctx, userID, m, func(current Profile) (Profile, error) {
		from = current.KYC.Status
		o := topts
		if o.At.IsZero() {
			o.At = s.now()
		}
		return s.machine.Transition(ctx, current, to, actor, o)
	})
	s.metrics.ObserveTransition(string(to), telemetry.Result(err))
	if err != nil {
		return Profile{}, err
	}

	meta := map[string]any{
		audit.MetadataFrom: string(from),
		audit.MetadataTo:   string(to),
	}
	if p.KYC.RejectionReason != "" {
		meta[audit.MetadataReason] = p.KYC.RejectionReason
	}
	s.emit(ctx, actor, audit.ActionKYCStatusChanged, p, meta)
	if topts.RiskScore != nil {
		s.emit(ctx, actor, audit.ActionKYCRiskScored, p, map[string]any{
			"risk_score":      *topts.RiskScore,
			"aml_risk_rating": p.Compliance.AMLRiskRating,
		})
	}
	return p, nil
}

// SetRiskScore updates the risk score and AML rating. It never changes the
// status.
func (s *Service) SetRiskScore(ctx context.Context, userID string, score int, actor *auth.Principal, opts ...MutationOption) (Profile, error) {
	if !s.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return Profile{}, apperr.Denied("setting a risk score requires %s", rbac.PermKYCManage)
	}
	m := applyMutationOptions(opts)
	p, err := s.update(ctx, userID, m, func(current Profile) (Profile, error) {
		return s.machine.SetRiskScore(ctx, current, score, actor, s.now())
	})
	if err != nil {
		return Profile{}, err
	}
	s.emit(ctx, actor, audit.ActionKYCRiskScored, p, map[string]any{
		"risk_score":      score,
		"aml_risk_rating": p.Compliance.AMLRiskRating,
	})
	return p, nil
}

// Deactivate soft-deletes the profile. The record is kept and refuses every
// later mutation.
func (s *Service) Deactivate(ctx context.Context, userID, reason string, actor *auth.Principal, opts ...MutationOption) (Profile, error) {
	if !s.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return Profile{}, apperr.Denied("deactivating profiles requires %s", rbac.PermKYCManage)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Profile{}, apperr.Validation("reason", "is required")
	}
	m := applyMutationOptions(opts)

	p, err := s.update(ctx, userID, m, func(current Profile) (Profile, error) {
		if !current.Active() {
			return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is already deactivated", userID)
		}
		now := s.now().UTC()
		next := current.Clone()
		next.Deactivation = &Deactivation{At: now, By: actor.UserID, Reason: reason}
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return Profile{}, err
	}
	s.emit(ctx, actor, audit.ActionKYCProfileDeactivated, p, map[string]any{audit.MetadataReason: reason})
	return p, nil
}

// ExpiryReport lists the owners whose approvals were expired.
type ExpiryReport struct {
	Expired []string `json:"expired"`
	Skipped []string `json:"skipped"`
}

// ExpireDue expires every approval older than the validity window. It runs
// in the caller's request; a profile that changed state in the meantime is
// skipped.
func (s *Service) ExpireDue(ctx context.Context, actor *auth.Principal, now time.Time) (ExpiryReport, error) {
	report := ExpiryReport{Expired: []string{}, Skipped: []string{}}
	if !s.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return report, apperr.Denied("expiring approvals requires %s", rbac.PermKYCManage)
	}

	cutoff := now.Add(-s.approvalValidity)
	due, err := s.store.ApprovedBefore(ctx, cutoff)
	if err != nil {
		return report, err
	}

	for _, userID := range due {
		_, err := s.update(ctx, userID, mutation{}, func(current Profile) (Profile, error) {
			a := current.KYC.ApprovedAt
			if current.KYC.Status != StatusApproved || a == nil || a.After(cutoff) {
				return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrInvalidTransition, "approval of %s is no longer due", userID)
			}
			return s.machine.Transition(ctx, current, StatusExpired, actor, TransitionOptions{At: now})
		})
		s.metrics.ObserveTransition(string(StatusExpired), telemetry.Result(err))
		switch {
		case err == nil:
			report.Expired = append(report.Expired, userID)
			s.audit.Log(ctx, audit.Event{
				ActorID:      actor.UserID,
				Action:       audit.ActionKYCStatusChanged,
				ResourceType: audit.ResourceKYCProfile,
				ResourceID:   userID,
				Metadata: map[string]any{
					audit.MetadataFrom: string(StatusApproved),
					audit.MetadataTo:   string(StatusExpired),
					"trigger":          "expiry",
				},
				Source: audit.SourceSystem,
			})
		case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrNotFound):
			report.Skipped = append(report.Skipped, userID)
		default:
			return report, err
		}
	}

	if len(report.Expired) > 0 {
		s.logger.InfoContext(ctx, "kyc approvals expired", "count", len(report.Expired), "cutoff", cutoff)
	}
	return report, nil
}

// update runs fn on an existing profile only.
func (s *Service) update(ctx context.Context, userID string, m mutation, fn func(Profile) (Profile, error)) (Profile, error) {
	return s.store.Update(ctx, userID, func(current Profile, found bool) (Profile, error) {
		if !found {
			return Profile{}, profileNotFound(userID)
		}
		if err := m.check(current); err != nil {
			return Profile{}, err
		}
		next, err := fn(current)
		if err != nil {
			return Profile{}, err
		}
		next.Completion = ComputeCompletion(next)
		return next, nil
	})
}

func (s *Service) emit(ctx context.Context, actor *auth.Principal, action string, p Profile, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta[audit.MetadataProfileID] = p.ID.String()
	s.audit.Log(ctx, audit.Event{
		ActorID:      actor.UserID,
		Action:       action,
		ResourceType: audit.ResourceKYCProfile,
		ResourceID:   p.UserID,
		Metadata:     meta,
		Source:       audit.SourceAPI,
	})
}

func applyMutationOptions(opts []MutationOption) mutation {
	var m mutation
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m mutation) check(current Profile) error {
	if m.expectedVersion != nil && *m.expectedVersion != current.Version {
		return versionConflict(current.UserID, *m.expectedVersion, current.Version)
	}
	return nil
}

func applyInput(p *Profile, in ProfileInput) {
	if in.Personal != nil {
		p.Personal = trimPersonal(*in.Personal)
	}
	if in.Contact != nil {
		p.Contact = trimContact(*in.Contact)
	}
	if in.Employment != nil {
		p.Employment = Employment{
			Status:     strings.TrimSpace(in.Employment.Status),
			Employer:   strings.TrimSpace(in.Employment.Employer),
			Occupation: strings.TrimSpace(in.Employment.Occupation),
		}
	}
	if in.Financial != nil {
		p.Financial = FinancialProfile{
			AnnualIncome:  strings.TrimSpace(in.Financial.AnnualIncome),
			SourceOfFunds: strings.TrimSpace(in.Financial.SourceOfFunds),
			NetWorth:      strings.TrimSpace(in.Financial.NetWorth),
		}
	}
}

func trimPersonal(in PersonalInfo) PersonalInfo {
	return PersonalInfo{
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		DateOfBirth: strings.TrimSpace(in.DateOfBirth),
		Nationality: strings.ToUpper(strings.TrimSpace(in.Nationality)),
		Gender:      strings.TrimSpace(in.Gender),
	}
}

func trimContact(in ContactInfo) ContactInfo {
	return ContactInfo{
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:      strings.TrimSpace(in.Phone),
		Country:    strings.ToUpper(strings.TrimSpace(in.Country)),
		City:       strings.TrimSpace(in.City),
		Street:     strings.TrimSpace(in.Street),
		PostalCode: strings.TrimSpace(in.PostalCode),
	}
}
