package moduleaccess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moduleNames(mods []Module) []string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return names
}

func TestModuleRegistryListActiveOrder(t *testing.T) {
	ctx := context.Background()
	reg := NewModuleRegistry(newTestDB(t), nil)

	for _, mod := range []Module{
		{Name: "Reports", IsActive: true, DisplayOrder: 2},
		{Name: "Billing", IsActive: true, DisplayOrder: 2},
		{Name: "Dashboard", IsActive: true, DisplayOrder: 0},
		{Name: "Legacy", IsActive: false, DisplayOrder: 1},
	} {
		_, err := reg.Upsert(ctx, mod)
		require.NoError(t, err)
	}

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dashboard", "Billing", "Reports"}, moduleNames(active))

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dashboard", "Legacy", "Billing", "Reports"}, moduleNames(all))
}

func TestModuleRegistryUpsert(t *testing.T) {
	ctx := context.Background()
	reg := NewModuleRegistry(newTestDB(t), nil)

	created, err := reg.Upsert(ctx, Module{Name: "  Billing ", IsActive: true, AvailableRoles: []string{"viewer"}})
	require.NoError(t, err)
	assert.Equal(t, "Billing", created.Name)
	assert.Equal(t, "Billing", created.DisplayName)
	assert.Equal(t, defaultModuleIcon, created.Icon)

	updated, err := reg.Upsert(ctx, Module{
		Name:           "Billing",
		DisplayName:    "Billing & Invoices",
		Icon:           "receipt",
		IsActive:       false,
		AvailableRoles: []string{"viewer", "editor"},
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Billing & Invoices", updated.DisplayName)
	assert.False(t, updated.IsActive)
	assert.Equal(t, []string{"viewer", "editor"}, []string(updated.AvailableRoles))

	_, err = reg.Upsert(ctx, Module{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestModuleRegistryDeleteAndRevive(t *testing.T) {
	ctx := context.Background()
	reg := NewModuleRegistry(newTestDB(t), nil)

	_, err := reg.Upsert(ctx, Module{Name: "Billing", IsActive: true})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, "Billing"))

	_, err = reg.FindByName(ctx, "Billing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Delete(ctx, "Billing"), ErrNotFound)

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	revived, err := reg.Upsert(ctx, Module{Name: "Billing", DisplayName: "Billing v2", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "Billing v2", revived.DisplayName)

	found, err := reg.FindByName(ctx, "Billing")
	require.NoError(t, err)
	assert.Equal(t, revived.ID, found.ID)
}

func TestModuleRegistrySetActive(t *testing.T) {
	ctx := context.Background()
	reg := NewModuleRegistry(newTestDB(t), nil)

	_, err := reg.Upsert(ctx, Module{Name: "Billing", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, reg.SetActive(ctx, "Billing", false))
	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, reg.SetActive(ctx, "Billing", true))
	active, err = reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Billing"}, moduleNames(active))

	assert.ErrorIs(t, reg.SetActive(ctx, "Missing", true), ErrNotFound)
}

func TestModuleOffersRole(t *testing.T) {
	mod := Module{AvailableRoles: []string{"viewer", "editor"}}
	assert.True(t, mod.OffersRole(RoleEditor))
	assert.False(t, mod.OffersRole(RoleAdmin))
	assert.True(t, Module{}.OffersRole(RoleAdmin))
}
