package kyc_test

import (
	"testing"
	"time"

	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/kyc"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
)

var (
	t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	officer    = &auth.Principal{UserID: "officer-1", Role: rbac.RoleComplianceOfficer, Hierarchy: 4}
	adminP     = &auth.Principal{UserID: "admin-1", Role: rbac.RoleAdmin, Hierarchy: 6}
	supportP   = &auth.Principal{UserID: "support-1", Role: rbac.RoleSupport, Hierarchy: 3}
	subscriber = &auth.Principal{UserID: "sub-1", Role: rbac.RoleSubscriber, Hierarchy: 2}
	stranger   = &auth.Principal{UserID: "sub-2", Role: rbac.RoleSubscriber, Hierarchy: 2}
)

func newEvaluator(t *testing.T) *rbac.Evaluator {
	t.Helper()
	return rbac.NewEvaluator(rbac.NewStaticCatalog(rbac.DefaultRoles()...), rbac.WithLogger(telemetry.Discard()))
}

// profileAt returns a profile owned by subscriber in status s.
func profileAt(s kyc.Status) kyc.Profile {
	p := kyc.NewProfile(subscriber.UserID, t0)
	p.KYC.Status = s
	if s == kyc.StatusApproved {
		at := t0
		p.KYC.ApprovedAt = &at
	}
	return p
}

func intPtr(v int) *int { return &v }
