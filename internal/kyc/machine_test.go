package kyc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/kyc"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

var allStatuses = []kyc.Status{
	kyc.StatusNotStarted, kyc.StatusInProgress, kyc.StatusPendingReview,
	kyc.StatusApproved, kyc.StatusRejected, kyc.StatusExpired,
}

func TestTransition_EdgeTable(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	allowed := map[[2]kyc.Status]bool{
		{kyc.StatusNotStarted, kyc.StatusInProgress}:    true,
		{kyc.StatusInProgress, kyc.StatusPendingReview}: true,
		{kyc.StatusPendingReview, kyc.StatusApproved}:   true,
		{kyc.StatusPendingReview, kyc.StatusRejected}:   true,
		{kyc.StatusApproved, kyc.StatusExpired}:         true,
		{kyc.StatusRejected, kyc.StatusInProgress}:      true,
		{kyc.StatusExpired, kyc.StatusNotStarted}:       true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			_, err := m.Transition(context.Background(), profileAt(from), to, officer,
				kyc.TransitionOptions{RejectionReason: "docs unclear", At: t0})
			if allowed[[2]kyc.Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.True(t, kyc.CanTransition(from, to))
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> %s", from, to)
				assert.ErrorIs(t, err, kyc.ErrInvalidTransition)
			}
		}
	}
}

func TestTransition_NoSkippingReview(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))

	_, err := m.Transition(context.Background(), profileAt(kyc.StatusNotStarted), kyc.StatusApproved, adminP, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestTransition_RejectionReason(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))

	for _, from := range allStatuses {
		for _, reason := range []string{"", "   "} {
			_, err := m.Transition(context.Background(), profileAt(from), kyc.StatusRejected, officer,
				kyc.TransitionOptions{RejectionReason: reason})
			require.ErrorIs(t, err, apperr.ErrValidation, "from %s", from)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "rejection_reason", appErr.Field)
		}
	}

	p, err := m.Transition(context.Background(), profileAt(kyc.StatusPendingReview), kyc.StatusRejected, officer,
		kyc.TransitionOptions{RejectionReason: "docs unclear", At: t0})
	require.NoError(t, err)
	assert.Equal(t, "docs unclear", p.KYC.RejectionReason)
	assert.Equal(t, kyc.StatusRejected, p.KYC.Status)
	require.NotNil(t, p.KYC.RejectedAt)
	require.NotNil(t, p.KYC.ReviewedAt)
	assert.Nil(t, p.KYC.ApprovedAt)
}

func TestTransition_Effects(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	ctx := context.Background()

	p := profileAt(kyc.StatusNotStarted)
	steps := []struct {
		to   kyc.Status
		opts kyc.TransitionOptions
	}{
		{kyc.StatusInProgress, kyc.TransitionOptions{}},
		{kyc.StatusPendingReview, kyc.TransitionOptions{}},
		{kyc.StatusRejected, kyc.TransitionOptions{RejectionReason: "blurry passport"}},
		{kyc.StatusInProgress, kyc.TransitionOptions{}},
		{kyc.StatusPendingReview, kyc.TransitionOptions{}},
		{kyc.StatusApproved, kyc.TransitionOptions{}},
	}
	for i, s := range steps {
		s.opts.At = t0.Add(time.Duration(i) * time.Hour)
		next, err := m.Transition(ctx, p, s.to, officer, s.opts)
		require.NoError(t, err, "step %d", i)
		p = next
	}

	k := p.KYC
	assert.Equal(t, kyc.StatusApproved, k.Status)
	assert.Empty(t, k.RejectionReason, "cleared on resubmission")
	require.Len(t, k.CompletedSteps, 6)
	assert.Equal(t, kyc.StatusRejected, k.CompletedSteps[2].Step)
	assert.Equal(t, kyc.StatusPendingReview, k.CompletedSteps[2].From)
	assert.Equal(t, officer.UserID, k.LastActor)
	assert.Equal(t, t0.Add(4*time.Hour), *k.SubmittedAt)
	assert.Equal(t, t0.Add(5*time.Hour), *k.ApprovedAt)
	assert.Equal(t, t0.Add(5*time.Hour), *k.ReviewedAt)
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	in := profileAt(kyc.StatusPendingReview)

	out, err := m.Transition(context.Background(), in, kyc.StatusApproved, officer, kyc.TransitionOptions{RiskScore: intPtr(10)})
	require.NoError(t, err)

	assert.Equal(t, kyc.StatusPendingReview, in.KYC.Status)
	assert.Empty(t, in.KYC.CompletedSteps)
	assert.Nil(t, in.KYC.RiskScore)
	assert.Equal(t, kyc.StatusApproved, out.KYC.Status)
}

func TestTransition_Permission(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	ctx := context.Background()

	// Owner holds the single self-edge.
	p, err := m.Transition(ctx, profileAt(kyc.StatusNotStarted), kyc.StatusInProgress, subscriber, kyc.TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, subscriber.UserID, p.KYC.LastActor)

	_, err = m.Transition(ctx, profileAt(kyc.StatusInProgress), kyc.StatusPendingReview, subscriber, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = m.Transition(ctx, profileAt(kyc.StatusNotStarted), kyc.StatusInProgress, stranger, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied, "not the owner")

	_, err = m.Transition(ctx, profileAt(kyc.StatusPendingReview), kyc.StatusApproved, supportP, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = m.Transition(ctx, profileAt(kyc.StatusPendingReview), kyc.StatusApproved, nil, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	ghost := &auth.Principal{UserID: subscriber.UserID, Role: "deleted_role", Hierarchy: 2}
	_, err = m.Transition(ctx, profileAt(kyc.StatusNotStarted), kyc.StatusInProgress, ghost, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied, "owner with an unknown role fails closed")
}

func TestTransition_PermissionCheckedBeforeReason(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))

	_, err := m.Transition(context.Background(), profileAt(kyc.StatusPendingReview), kyc.StatusRejected, supportP, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestTransition_RiskAndLevelOptions(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	ctx := context.Background()

	for _, score := range []int{-1, 101} {
		_, err := m.Transition(ctx, profileAt(kyc.StatusPendingReview), kyc.StatusApproved, officer, kyc.TransitionOptions{RiskScore: intPtr(score)})
		assert.ErrorIs(t, err, apperr.ErrValidation, "score %d", score)
	}

	bogus := kyc.Level("platinum")
	_, err := m.Transition(ctx, profileAt(kyc.StatusPendingReview), kyc.StatusApproved, officer, kyc.TransitionOptions{Level: &bogus})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	full := kyc.LevelFull
	p, err := m.Transition(ctx, profileAt(kyc.StatusPendingReview), kyc.StatusApproved, officer, kyc.TransitionOptions{RiskScore: intPtr(55), Level: &full})
	require.NoError(t, err)
	assert.Equal(t, 55, *p.KYC.RiskScore)
	assert.Equal(t, kyc.RiskMedium, p.Compliance.AMLRiskRating)
	assert.Equal(t, kyc.LevelFull, p.KYC.Level)
}

func TestTransition_DeactivatedProfile(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	p := profileAt(kyc.StatusPendingReview)
	p.Deactivation = &kyc.Deactivation{At: t0, By: "admin-1", Reason: "gdpr"}

	_, err := m.Transition(context.Background(), p, kyc.StatusApproved, officer, kyc.TransitionOptions{})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.ErrorIs(t, err, kyc.ErrProfileInactive)
}

func TestSetRiskScore_NeverTransitions(t *testing.T) {
	m := kyc.NewStatusMachine(newEvaluator(t))
	ctx := context.Background()

	for _, score := range []int{0, 100} {
		p, err := m.SetRiskScore(ctx, profileAt(kyc.StatusPendingReview), score, officer, t0)
		require.NoError(t, err)
		assert.Equal(t, kyc.StatusPendingReview, p.KYC.Status)
		assert.Equal(t, score, *p.KYC.RiskScore)
	}

	_, err := m.SetRiskScore(ctx, profileAt(kyc.StatusPendingReview), 50, supportP, t0)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	_, err = m.SetRiskScore(ctx, profileAt(kyc.StatusPendingReview), 150, officer, t0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRiskRating(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, kyc.RiskLow}, {30, kyc.RiskLow}, {31, kyc.RiskMedium},
		{70, kyc.RiskMedium}, {71, kyc.RiskHigh}, {100, kyc.RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kyc.RiskRating(tt.score), "score %d", tt.score)
	}
}
