package kyc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/kyc"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

func withDocument(t *testing.T, l *kyc.Ledger) (kyc.Profile, uuid.UUID) {
	t.Helper()
	p, doc, err := l.Add(context.Background(), profileAt(kyc.StatusPendingReview),
		kyc.DocumentInput{Type: kyc.DocumentPassport, Number: " P123 ", IssuingCountry: "gb"}, subscriber, t0)
	require.NoError(t, err)
	return p, doc.ID
}

func TestLedger_AddIsUnverified(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)

	doc, ok := p.Document(id)
	require.True(t, ok)
	assert.Equal(t, "P123", doc.Number)
	assert.Equal(t, "GB", doc.IssuingCountry)
	assert.False(t, doc.Verification.IsVerified())
	assert.True(t, doc.Verification.VerifiedAt().IsZero())
	assert.Empty(t, doc.Verification.VerifiedBy())
}

func TestLedger_AddPermission(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	in := kyc.DocumentInput{Type: kyc.DocumentPassport, Number: "P1"}

	_, _, err := l.Add(context.Background(), profileAt(kyc.StatusInProgress), in, stranger, t0)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, _, err = l.Add(context.Background(), profileAt(kyc.StatusInProgress), in, officer, t0)
	assert.NoError(t, err)
}

func TestLedger_VerifyTwiceIsIdempotent(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)
	ctx := context.Background()

	first, err := l.Verify(ctx, p, id, true, officer, t0)
	require.NoError(t, err)
	second, err := l.Verify(ctx, first, id, true, adminP, t0.Add(time.Minute))
	require.NoError(t, err)

	d1, _ := first.Document(id)
	d2, _ := second.Document(id)
	assert.True(t, d1.Verification.IsVerified())
	assert.True(t, d2.Verification.IsVerified())
	assert.Equal(t, officer.UserID, d1.Verification.VerifiedBy())
	assert.Equal(t, adminP.UserID, d2.Verification.VerifiedBy(), "re-verify refreshes the actor")
	assert.Equal(t, t0.Add(time.Minute), d2.Verification.VerifiedAt())
}

func TestLedger_UnverifyClearsPair(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)

	p, err := l.Verify(context.Background(), p, id, true, officer, t0)
	require.NoError(t, err)
	p, err = l.Verify(context.Background(), p, id, false, officer, t0)
	require.NoError(t, err)

	d, _ := p.Document(id)
	assert.False(t, d.Verification.IsVerified())
	assert.True(t, d.Verification.VerifiedAt().IsZero())
	assert.Empty(t, d.Verification.VerifiedBy())
}

func TestLedger_NeverTouchesStatus(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)

	out, err := l.Verify(context.Background(), p, id, true, officer, t0)
	require.NoError(t, err)
	assert.Equal(t, p.KYC, out.KYC)
}

func TestLedger_Errors(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)
	ctx := context.Background()

	_, err := l.Verify(ctx, p, uuid.New(), true, officer, t0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, err, kyc.ErrDocumentNotFound)

	_, err = l.Verify(ctx, p, id, true, supportP, t0)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = l.Verify(ctx, p, id, true, subscriber, t0)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied, "owners cannot verify their own documents")
}

func TestLedger_ExplicitOverrideVerifies(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)
	agent := &auth.Principal{UserID: "support-9", Role: rbac.RoleSupport, Hierarchy: 3, ExplicitPermissions: []string{rbac.PermKYCManage}}

	out, err := l.Verify(context.Background(), p, id, true, agent, t0)
	require.NoError(t, err)
	d, _ := out.Document(id)
	assert.True(t, d.Verification.IsVerified())
	assert.Equal(t, "support-9", d.Verification.VerifiedBy())
}

func TestVerification_JSONKeepsPairing(t *testing.T) {
	l := kyc.NewLedger(newEvaluator(t))
	p, id := withDocument(t, l)
	p, err := l.Verify(context.Background(), p, id, true, officer, t0)
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var back kyc.Profile
	require.NoError(t, json.Unmarshal(raw, &back))
	d, _ := back.Document(id)
	assert.True(t, d.Verification.IsVerified())
	assert.Equal(t, officer.UserID, d.Verification.VerifiedBy())
	assert.True(t, d.Verification.VerifiedAt().Equal(t0))

	for _, bad := range []string{
		`{"is_verified": true}`,
		`{"is_verified": true, "verified_by": "x"}`,
		`{"is_verified": false, "verified_by": "x"}`,
		`{"is_verified": false, "verified_at": "2026-01-01T00:00:00Z"}`,
	} {
		var v kyc.Verification
		assert.ErrorIs(t, json.Unmarshal([]byte(bad), &v), kyc.ErrVerificationPair, bad)
	}
}
