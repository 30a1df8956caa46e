package moduleaccess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceRequiresDB(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestBillingScenario(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	const userA uint = 42

	_, err := svc.Modules.Upsert(ctx, Module{Name: "Billing", AvailableRoles: []string{"viewer", "editor", "admin"}})
	require.NoError(t, err)
	_, _, err = svc.GrantWithRole(ctx, userA, "Billing", RoleEditor, 1, "", testNow)
	require.NoError(t, err)

	ok, err := svc.HasAccess(ctx, userA, "Billing", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanPerform(ctx, userA, "Billing", RoleAdmin, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CanPerform(ctx, userA, "Billing", RoleViewer, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	mods, err := svc.AccessibleModules(ctx, userA, testNow)
	require.NoError(t, err)
	assert.Empty(t, mods)

	require.NoError(t, svc.Modules.SetActive(ctx, "Billing", true))
	mods, err = svc.AccessibleModules(ctx, userA, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"Billing"}, moduleNames(mods))
}

func TestGrantWithRole(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedModules(t, svc)

	t.Run("writes grant and role", func(t *testing.T) {
		expiry := testNow.Add(48 * time.Hour)
		grant, role, err := svc.GrantWithRole(ctx, 7, "Billing", RoleEditor, 1, "q1", testNow, WithExpiry(expiry))
		require.NoError(t, err)
		assert.True(t, grant.IsActiveAt(testNow))
		assert.True(t, role.IsActiveAt(testNow))
		assert.False(t, role.IsActiveAt(expiry))
	})

	t.Run("role not offered by module", func(t *testing.T) {
		_, _, err := svc.GrantWithRole(ctx, 8, ModuleDashboard, RoleAdmin, 1, "", testNow)
		assert.ErrorIs(t, err, ErrRoleNotAvailable)

		ok, err := svc.HasAccess(ctx, 8, ModuleDashboard, testNow)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown module", func(t *testing.T) {
		_, _, err := svc.GrantWithRole(ctx, 8, "Missing", RoleViewer, 1, "", testNow)
		assert.ErrorIs(t, err, ErrConstraintViolation)
	})

	t.Run("invalid granter writes nothing", func(t *testing.T) {
		_, _, err := svc.GrantWithRole(ctx, 9, "Billing", RoleViewer, 0, "", testNow)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = svc.Grants.Get(ctx, 9, "Billing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.Roles.Get(ctx, 9, "Billing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGrantAccessRequiresRegisteredModule(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedModules(t, svc)

	grant, err := svc.GrantAccess(ctx, 7, "Billing", 1, "", testNow)
	require.NoError(t, err)
	assert.True(t, grant.IsActiveAt(testNow))

	_, err = svc.GrantAccess(ctx, 7, "NoSuchModule", 1, "", testNow)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	_, err = svc.Grants.Get(ctx, 7, "NoSuchModule")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Modules.Delete(ctx, "Billing"))
	_, err = svc.GrantAccess(ctx, 8, "Billing", 1, "", testNow)
	assert.ErrorIs(t, err, ErrConstraintViolation)

	_, err = svc.AssignModuleRole(ctx, 7, "NoSuchModule", RoleViewer, 1, "", testNow)
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestForeignKeys(t *testing.T) {
	keys, err := foreignKeys("users", false)
	require.NoError(t, err)
	for _, fk := range keys {
		assert.Equal(t, "modules", fk.refTable, fk.name)
		assert.Equal(t, "CASCADE", fk.onDelete, fk.name)
	}
	assert.Len(t, keys, 2)

	keys, err = foreignKeys("auth.users", true)
	require.NoError(t, err)
	assert.Len(t, keys, 6)
	onDelete := map[string]string{}
	for _, fk := range keys {
		onDelete[fk.name] = fk.onDelete
	}
	assert.Equal(t, "RESTRICT", onDelete["fk_access_grants_granted_by"])
	assert.Equal(t, "CASCADE", onDelete["fk_role_assignments_user"])

	_, err = foreignKeys("users; DROP TABLE modules", true)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAssignModuleRole(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedModules(t, svc)

	_, err := svc.AssignModuleRole(ctx, 7, ModuleSystemManagement, RoleViewer, 1, "", testNow)
	assert.ErrorIs(t, err, ErrRoleNotAvailable)

	row, err := svc.AssignModuleRole(ctx, 7, ModuleSystemManagement, RoleAdmin, 1, "", testNow)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, row.Role)

	// A role alone does not open the module.
	ok, err := svc.CanPerform(ctx, 7, ModuleSystemManagement, RoleViewer, testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeModuleAccess(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedModules(t, svc)

	_, _, err := svc.GrantWithRole(ctx, 7, "Billing", RoleAdmin, 1, "", testNow)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeModuleAccess(ctx, 7, "Billing"))

	ok, err := svc.HasAccess(ctx, 7, "Billing", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	_, held, err := svc.RoleIn(ctx, 7, "Billing", testNow)
	require.NoError(t, err)
	assert.False(t, held)

	// A plain re-grant does not bring the old role back.
	_, err = svc.Grants.Grant(ctx, 7, "Billing", 1, "", testNow)
	require.NoError(t, err)
	ok, err = svc.CanPerform(ctx, 7, "Billing", RoleViewer, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.RevokeModuleAccess(ctx, 99, "Billing"))
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	const admin uint = 1

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Provision(ctx, DefaultModules(), AdminSeedGrants(admin), admin, testNow))
	}

	mods, err := svc.ModulesWithRoles(ctx, admin, testNow)
	require.NoError(t, err)
	require.Len(t, mods, 3)

	got := map[string]Role{}
	var order []string
	for _, m := range mods {
		order = append(order, m.Name)
		require.NotNil(t, m.UserRole, m.Name)
		got[m.Name] = *m.UserRole
	}
	assert.Equal(t, []string{ModuleDashboard, ModuleUsers, ModuleSystemManagement}, order)
	assert.Equal(t, map[string]Role{
		ModuleDashboard:        RoleViewer,
		ModuleUsers:            RoleAdmin,
		ModuleSystemManagement: RoleAdmin,
	}, got)

	grants, err := svc.Grants.ListByModule(ctx, ModuleUsers)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestPing(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}
