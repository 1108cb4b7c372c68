package roles_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
	"github.com/valinor-ai/kycgate/internal/roles"
)

var (
	superadmin = &auth.Principal{UserID: "root", Role: rbac.RoleSuperadmin, Hierarchy: 7}
	admin      = &auth.Principal{UserID: "adm", Role: rbac.RoleAdmin, Hierarchy: 6}
	support    = &auth.Principal{UserID: "sup", Role: rbac.RoleSupport, Hierarchy: 3}
)

type fixture struct {
	store   *roles.MemoryStore
	admin   *roles.Administration
	catalog *rbac.CachedCatalog
	events  *audit.Recorder
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := roles.NewMemoryStore(rbac.DefaultRoles()...)
	catalog := rbac.NewCachedCatalog(store, time.Hour, nil)
	eval := rbac.NewEvaluator(catalog, rbac.WithLogger(telemetry.Discard()))
	events := audit.NewRecorder(100)
	metrics := telemetry.NewMetrics()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return &fixture{
		store:   store,
		catalog: catalog,
		events:  events,
		metrics: metrics,
		admin: roles.NewAdministration(store, eval,
			roles.WithCache(catalog),
			roles.WithAudit(events),
			roles.WithMetrics(metrics),
			roles.WithLogger(telemetry.Discard()),
			roles.WithClock(clock),
		),
	}
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreate_NormalizesAndEmits(t *testing.T) {
	f := newFixture(t)

	role, err := f.admin.Create(context.Background(), roles.CreateRequest{
		Name:        "  Fraud Analyst ",
		Hierarchy:   intPtr(4),
		Permissions: []string{" KYC:Manage", "audit:read", "kyc:manage", ""},
		Color:       "#ABCDEF",
	}, admin)
	require.NoError(t, err)

	assert.Equal(t, "fraud_analyst", role.Name)
	assert.Equal(t, "fraud_analyst", role.DisplayName, "display name defaults to the slug")
	assert.Equal(t, 4, role.Hierarchy)
	assert.Equal(t, []string{"audit:read", "kyc:manage"}, role.Permissions)
	assert.Equal(t, "#abcdef", role.Color)
	assert.True(t, role.IsActive)
	assert.Equal(t, int64(1), role.Version)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), role.CreatedAt)

	assert.Equal(t, []string{audit.ActionRoleCreated}, f.events.Actions())
	assert.Equal(t, "adm", f.events.Events()[0].ActorID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoleMutations.WithLabelValues("create", "ok")))
}

func TestCreate_LevelAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.admin.Create(ctx, roles.CreateRequest{Name: "legacy_role", Level: intPtr(3)}, admin)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Hierarchy)

	r, err = f.admin.Create(ctx, roles.CreateRequest{Name: "both_given", Hierarchy: intPtr(5), Level: intPtr(2)}, admin)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Hierarchy, "hierarchy wins over level")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		req   roles.CreateRequest
		field string
	}{
		{"short name", roles.CreateRequest{Name: "ab", Hierarchy: intPtr(2)}, "name"},
		{"bad characters", roles.CreateRequest{Name: "ops-team", Hierarchy: intPtr(2)}, "name"},
		{"missing name", roles.CreateRequest{Hierarchy: intPtr(2)}, "name"},
		{"hierarchy too high", roles.CreateRequest{Name: "boss", Hierarchy: intPtr(8)}, "hierarchy"},
		{"hierarchy zero", roles.CreateRequest{Name: "nobody", Hierarchy: intPtr(0)}, "hierarchy"},
		{"hierarchy missing", roles.CreateRequest{Name: "floating"}, "hierarchy"},
		{"bad permission", roles.CreateRequest{Name: "weird", Hierarchy: intPtr(2), Permissions: []string{"everything"}}, "permissions"},
		{"bad color", roles.CreateRequest{Name: "painted", Hierarchy: intPtr(2), Color: "red"}, "color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.Create(context.Background(), tt.req, admin)
			require.ErrorIs(t, err, apperr.ErrValidation)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
	assert.Empty(t, f.events.Actions())
}

func TestCreate_DuplicateName(t *testing.T) {
	f := newFixture(t)

	_, err := f.admin.Create(context.Background(), roles.CreateRequest{Name: "Support", Hierarchy: intPtr(3)}, admin)
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.ErrorIs(t, err, roles.ErrRoleExists)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "name", appErr.Field)
}

func TestCreate_RequiresCreatePermission(t *testing.T) {
	f := newFixture(t)

	_, err := f.admin.Create(context.Background(), roles.CreateRequest{Name: "ops", Hierarchy: intPtr(2)}, support)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.admin.Create(context.Background(), roles.CreateRequest{Name: "ops", Hierarchy: intPtr(2)}, nil)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	// system:full_access alone is enough.
	f.store.Put(rbac.Role{Name: "operator", Hierarchy: 5, Permissions: []string{rbac.PermSystemFullAccess}, IsActive: true})
	_, err = f.admin.Create(context.Background(), roles.CreateRequest{Name: "ops", Hierarchy: intPtr(2)},
		&auth.Principal{UserID: "o", Role: "operator"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoleMutations.WithLabelValues("create", "PERMISSION_DENIED")))
}

func TestCreate_NewRoleIsImmediatelyEvaluable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eval := rbac.NewEvaluator(f.catalog, rbac.WithLogger(telemetry.Discard()))
	analyst := &auth.Principal{UserID: "a", Role: "analyst", Hierarchy: 4}

	assert.False(t, eval.Can(ctx, analyst, rbac.PermKYCManage), "unknown role denies")

	_, err := f.admin.Create(ctx, roles.CreateRequest{Name: "analyst", Hierarchy: intPtr(4), Permissions: []string{rbac.PermKYCManage}}, admin)
	require.NoError(t, err)
	assert.True(t, eval.Can(ctx, analyst, rbac.PermKYCManage))
}

func TestUpdate_MutableFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updated, err := f.admin.Update(ctx, rbac.RoleSupport, roles.Patch{
		DisplayName: strPtr("Tier 1 Support"),
		Permissions: &[]string{rbac.PermUsersView, rbac.PermDashboardAccess, rbac.PermAuditRead},
	}, admin)
	require.NoError(t, err)

	assert.Equal(t, "Tier 1 Support", updated.DisplayName)
	assert.Equal(t, []string{rbac.PermAuditRead, rbac.PermDashboardAccess, rbac.PermUsersView}, updated.Permissions)
	assert.Equal(t, 3, updated.Hierarchy)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, []string{audit.ActionRoleUpdated}, f.events.Actions())

	got, err := f.catalog.Get(ctx, rbac.RoleSupport)
	require.NoError(t, err)
	assert.Equal(t, "Tier 1 Support", got.DisplayName, "cache invalidated after update")
}

func TestUpdate_ImmutableFieldsRejected(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		patch roles.Patch
		field string
	}{
		{"name", roles.Patch{Name: strPtr("renamed")}, "name"},
		{"hierarchy", roles.Patch{Hierarchy: intPtr(6)}, "hierarchy"},
		{"level", roles.Patch{Level: intPtr(6)}, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.Update(context.Background(), rbac.RoleSupport, tt.patch, admin)
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.ErrorIs(t, err, roles.ErrImmutableField)
			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	r, err := f.store.Get(context.Background(), rbac.RoleSupport)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)
}

func TestUpdate_PermissionAndExistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.Update(ctx, rbac.RoleSupport, roles.Patch{Icon: strPtr("x")}, support)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.admin.Update(ctx, "ghost", roles.Patch{Icon: strPtr("x")}, admin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdate_ExpectedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := int64(1)
	_, err := f.admin.Update(ctx, rbac.RoleSupport, roles.Patch{Icon: strPtr("a"), ExpectedVersion: &stale}, admin)
	require.NoError(t, err)

	_, err = f.admin.Update(ctx, rbac.RoleSupport, roles.Patch{Icon: strPtr("b"), ExpectedVersion: &stale}, admin)
	require.ErrorIs(t, err, apperr.ErrVersionConflict)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.Retryable())
}

func TestUpdate_DeactivateFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eval := rbac.NewEvaluator(f.catalog, rbac.WithLogger(telemetry.Discard()))
	staff := &auth.Principal{UserID: "s", Role: rbac.RoleSupportAdmin, Hierarchy: 5}

	require.True(t, eval.Can(ctx, staff, rbac.PermKYCManage))

	_, err := f.admin.Update(ctx, rbac.RoleSupportAdmin, roles.Patch{IsActive: new(bool)}, admin)
	require.NoError(t, err)
	assert.False(t, eval.Can(ctx, staff, rbac.PermKYCManage))

	active, err := f.admin.List(ctx, false, admin)
	require.NoError(t, err)
	all, err := f.admin.List(ctx, true, admin)
	require.NoError(t, err)
	assert.Len(t, active, len(all)-1)
}

func TestDelete_ProtectedForAnyActor(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{rbac.RoleSuperadmin, rbac.RoleAdmin, rbac.RoleUser, " Admin "} {
		for _, actor := range []*auth.Principal{superadmin, admin, support, nil} {
			err := f.admin.Delete(context.Background(), name, actor)
			assert.ErrorIs(t, err, apperr.ErrProtectedRole, "%s by %v", name, actor)
		}
	}
	assert.Empty(t, f.events.Actions())
}

func TestDelete_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inUse := rbac.Role{Name: "busy", Hierarchy: 2, IsActive: true, UserCount: 3}
	f.store.Put(inUse)
	f.store.Put(rbac.Role{Name: "idle", Hierarchy: 2, IsActive: true})

	// Without roles:delete the actor is refused before existence or use.
	assert.ErrorIs(t, f.admin.Delete(ctx, "idle", support), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.admin.Delete(ctx, "ghost", support), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, f.admin.Delete(ctx, "busy", support), apperr.ErrPermissionDenied)

	assert.ErrorIs(t, f.admin.Delete(ctx, "ghost", admin), apperr.ErrNotFound)
	assert.ErrorIs(t, f.admin.Delete(ctx, "busy", admin), apperr.ErrRoleInUse)

	require.NoError(t, f.admin.Delete(ctx, "idle", admin))
	_, err := f.store.Get(ctx, "idle")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
	_, err = f.catalog.Get(ctx, "idle")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound, "cache invalidated after delete")

	assert.Equal(t, []string{audit.ActionRoleDeleted}, f.events.Actions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoleMutations.WithLabelValues("delete", "ROLE_IN_USE")))
}

func TestListAndGet_RequireView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.List(ctx, false, support)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	_, err = f.admin.Get(ctx, rbac.RoleAdmin, support)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	list, err := f.admin.List(ctx, false, admin)
	require.NoError(t, err)
	assert.Len(t, list, 7)

	r, err := f.admin.Get(ctx, rbac.RoleSubscriber, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Hierarchy)
}

type failingCache struct{ calls int }

func (c *failingCache) Invalidate(context.Context, string) error {
	c.calls++
	return errors.New("redis down")
}

func TestMutation_CacheFailureDoesNotFail(t *testing.T) {
	store := roles.NewMemoryStore(rbac.DefaultRoles()...)
	cache := &failingCache{}
	a := roles.NewAdministration(store, rbac.NewEvaluator(store),
		roles.WithCache(cache), roles.WithLogger(telemetry.Discard()))

	_, err := a.Create(context.Background(), roles.CreateRequest{Name: "ops", Hierarchy: intPtr(2)}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.calls)
}

func TestUpdate_ConcurrentPatchesAllLand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.admin.Update(ctx, rbac.RoleSupport, roles.Patch{Icon: strPtr("i")}, admin)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, err := f.store.Get(ctx, rbac.RoleSupport)
	require.NoError(t, err)
	assert.Equal(t, int64(21), r.Version)
}
