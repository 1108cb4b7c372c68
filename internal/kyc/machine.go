package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

// edges is the allowed-transition table.
var edges = map[Status][]Status{
	StatusNotStarted:    {StatusInProgress},
	StatusInProgress:    {StatusPendingReview},
	StatusPendingReview: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusExpired},
	StatusRejected:      {StatusInProgress},
	StatusExpired:       {StatusNotStarted},
}

// CanTransition reports whether from -> to is an edge.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// isSelfEdge is the one transition a profile owner may perform.
func isSelfEdge(from, to Status) bool {
	return from == StatusNotStarted && to == StatusInProgress
}

// TransitionOptions carry the optional inputs of a transition.
type TransitionOptions struct {
	RejectionReason string
	RiskScore       *int
	Level           *Level
	// At stamps the transition; zero means now.
	At time.Time
}

// StatusMachine enforces the KYC edge table.
type StatusMachine struct {
	evaluator *rbac.Evaluator
}

func NewStatusMachine(evaluator *rbac.Evaluator) *StatusMachine {
	return &StatusMachine{evaluator: evaluator}
}

// Transition moves p to status to and returns the new snapshot; p is left
// untouched. Checks run in order: permission, rejection reason, edge,
// option ranges.
func (m *StatusMachine) Transition(ctx context.Context, p Profile, to Status, actor *auth.Principal, opts TransitionOptions) (Profile, error) {
	from := p.KYC.Status

	if !m.permitted(ctx, p, from, to, actor) {
		return Profile{}, apperr.Denied("transition to %s requires %s", to, rbac.PermKYCManage)
	}

	reason := strings.TrimSpace(opts.RejectionReason)
	if to == StatusRejected && reason == "" {
		return Profile{}, apperr.Validation("rejection_reason", "is required when rejecting")
	}

	if !p.Active() {
		return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is deactivated", p.UserID)
	}
	if !to.Valid() || !CanTransition(from, to) {
		return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrInvalidTransition, "cannot move from %s to %s", from, to)
	}

	if opts.RiskScore != nil {
		if err := checkRiskScore(*opts.RiskScore); err != nil {
			return Profile{}, err
		}
	}
	if opts.Level != nil && !opts.Level.Valid() {
		return Profile{}, apperr.Validation("level", "unknown level %q", *opts.Level)
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	next := p.Clone()
	k := &next.KYC
	k.Status = to
	switch to {
	case StatusPendingReview:
		k.SubmittedAt = &at
	case StatusApproved:
		k.ReviewedAt = &at
		k.ApprovedAt = &at
	case StatusRejected:
		k.ReviewedAt = &at
		k.RejectedAt = &at
	case StatusExpired:
		k.ExpiredAt = &at
	}
	if to == StatusRejected {
		k.RejectionReason = reason
	} else {
		k.RejectionReason = ""
	}
	k.CompletedSteps = append(k.CompletedSteps, Step{Step: to, From: from, Actor: actor.UserID, CompletedAt: at})
	k.LastActor = actor.UserID
	if opts.Level != nil {
		k.Level = *opts.Level
	}
	if opts.RiskScore != nil {
		applyRiskScore(&next, *opts.RiskScore)
	}
	next.UpdatedAt = at
	return next, nil
}

// SetRiskScore records a score without touching the status.
func (m *StatusMachine) SetRiskScore(ctx context.Context, p Profile, score int, actor *auth.Principal, at time.Time) (Profile, error) {
	if !m.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return Profile{}, apperr.Denied("setting a risk score requires %s", rbac.PermKYCManage)
	}
	if !p.Active() {
		return Profile{}, apperr.Wrap(apperr.CodeInvalidTransition, ErrProfileInactive, "profile %s is deactivated", p.UserID)
	}
	if err := checkRiskScore(score); err != nil {
		return Profile{}, err
	}
	next := p.Clone()
	applyRiskScore(&next, score)
	next.KYC.LastActor = actor.UserID
	next.UpdatedAt = at.UTC()
	return next, nil
}

// permitted grants kyc:manage holders every edge and the owner the single
// self-edge. The owner's role must still resolve.
func (m *StatusMachine) permitted(ctx context.Context, p Profile, from, to Status, actor *auth.Principal) bool {
	if actor == nil {
		return false
	}
	if m.evaluator.Can(ctx, actor, rbac.PermKYCManage) {
		return true
	}
	return actor.UserID == p.UserID && isSelfEdge(from, to) &&
		m.evaluator.HierarchyAtLeast(ctx, actor, rbac.MinHierarchy)
}

func checkRiskScore(score int) error {
	if score < 0 || score > 100 {
		return apperr.Validation("risk_score", "must be between 0 and 100")
	}
	return nil
}

func applyRiskScore(p *Profile, score int) {
	p.KYC.RiskScore = &score
	p.Compliance.AMLRiskRating = RiskRating(score)
}
