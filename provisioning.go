package moduleaccess

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Names of the modules every installation starts with.
const (
	ModuleDashboard        = "Dashboard"
	ModuleUsers            = "Users"
	ModuleSystemManagement = "SystemManagement"
)

// DefaultModules returns the base module set.
func DefaultModules() []Module {
	return []Module{
		{
			Name:               ModuleUsers,
			DisplayName:        "User Management",
			Description:        "Portal user administration with roles and permissions",
			Icon:               "users",
			IsActive:           true,
			AvailableRoles:     []string{string(RoleViewer), string(RoleEditor), string(RoleAdmin)},
			RoutePrefix:        "users",
			HasInternalUsers:   true,
			DefaultPermissions: []string{"view", "create", "edit", "delete"},
			DisplayOrder:       1,
		},
		{
			Name:               ModuleDashboard,
			DisplayName:        "Main Dashboard",
			Description:        "Landing portal listing the modules available to the user",
			Icon:               "dashboard",
			IsActive:           true,
			AvailableRoles:     []string{string(RoleViewer)},
			RoutePrefix:        "dashboard",
			DefaultPermissions: []string{"view"},
			DisplayOrder:       0,
		},
		{
			Name:               ModuleSystemManagement,
			DisplayName:        "System Management",
			Description:        "Module administration and access assignment",
			Icon:               "settings",
			IsActive:           true,
			AvailableRoles:     []string{string(RoleAdmin)},
			RoutePrefix:        "system-management",
			DefaultPermissions: []string{"view", "manage"},
			DisplayOrder:       99,
		},
	}
}

// SeedGrant describes one access grant plus role to provision.
type SeedGrant struct {
	UserID uint
	Module string
	Role   Role
	Notes  string
}

// AdminSeedGrants gives userID the strongest role each default module offers.
func AdminSeedGrants(userID uint) []SeedGrant {
	mods := DefaultModules()
	seeds := make([]SeedGrant, 0, len(mods))
	for _, mod := range mods {
		strongest := RoleViewer
		for _, r := range mod.AvailableRoles {
			if Role(r).Level() > strongest.Level() {
				strongest = Role(r)
			}
		}
		seeds = append(seeds, SeedGrant{UserID: userID, Module: mod.Name, Role: strongest, Notes: "seeded administrator access"})
	}
	return seeds
}

// Provision upserts modules and then applies seeds. It is safe to run on
// every start: both steps are idempotent upserts.
func (s *Service) Provision(ctx context.Context, modules []Module, seeds []SeedGrant, grantedBy uint, now time.Time) error {
	for _, mod := range modules {
		if _, err := s.Modules.Upsert(ctx, mod); err != nil {
			return err
		}
	}
	for _, seed := range seeds {
		if _, _, err := s.GrantWithRole(ctx, seed.UserID, seed.Module, seed.Role, grantedBy, seed.Notes, now); err != nil {
			return err
		}
	}
	s.logger.Info("modules_provisioned", zap.Int("modules", len(modules)), zap.Int("grants", len(seeds)))
	return nil
}
