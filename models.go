package moduleaccess

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Module represents a registered feature area of the application.
// Name is the technical identity and is referenced by grants and roles,
// so it must not change once rows point at it.
type Module struct {
	ID                 uint                        `gorm:"primaryKey" json:"id"`
	Name               string                      `gorm:"size:100;uniqueIndex;not null" json:"name"`
	DisplayName        string                      `gorm:"size:200;not null" json:"display_name"`
	Description        string                      `gorm:"type:text" json:"description"`
	Icon               string                      `gorm:"size:100;not null" json:"icon"`
	IsActive           bool                        `gorm:"not null;index:idx_modules_active_order,priority:1" json:"is_active"`
	AvailableRoles     datatypes.JSONSlice[string] `json:"available_roles"`
	RoutePrefix        string                      `gorm:"size:100" json:"route_prefix"`
	HasInternalUsers   bool                        `gorm:"not null" json:"has_internal_users"`
	DefaultPermissions datatypes.JSONSlice[string] `json:"default_permissions"`
	DisplayOrder       int                         `gorm:"not null;index:idx_modules_active_order,priority:2" json:"display_order"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
	DeletedAt          gorm.DeletedAt              `gorm:"index" json:"-"`
}

func (Module) TableName() string { return "modules" }

// OffersRole reports whether role is one of the module's available roles.
// A module without a declared role set accepts any role.
func (m Module) OffersRole(role Role) bool {
	if len(m.AvailableRoles) == 0 {
		return true
	}
	for _, r := range m.AvailableRoles {
		if Role(r) == role {
			return true
		}
	}
	return false
}

// AccessGrant records whether a user may use a module at all.
type AccessGrant struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	UserID     uint           `gorm:"not null;uniqueIndex:idx_access_user_module,priority:1;index:idx_access_user_has,priority:1" json:"user_id"`
	ModuleName string         `gorm:"size:100;not null;uniqueIndex:idx_access_user_module,priority:2;index:idx_access_module_has,priority:1" json:"module_name"`
	HasAccess  bool           `gorm:"not null;index:idx_access_module_has,priority:2;index:idx_access_user_has,priority:2" json:"has_access"`
	Notes      *string        `gorm:"type:text" json:"notes,omitempty"`
	GrantedAt  time.Time      `gorm:"not null" json:"granted_at"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	GrantedBy  uint           `gorm:"not null;index" json:"granted_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (AccessGrant) TableName() string { return "module_access_grants" }

// IsActiveAt mirrors activeGrantCondition for an already loaded row.
func (g AccessGrant) IsActiveAt(now time.Time) bool {
	return g.HasAccess && notExpired(g.ExpiresAt, now)
}

// RoleAssignment records the graded role a user holds inside a module.
type RoleAssignment struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserID          uint           `gorm:"not null;uniqueIndex:idx_roles_user_module,priority:1;index:idx_roles_user_active,priority:1" json:"user_id"`
	ModuleName      string         `gorm:"size:100;not null;uniqueIndex:idx_roles_user_module,priority:2;index:idx_roles_module_role,priority:1" json:"module_name"`
	Role            Role           `gorm:"size:50;not null;index:idx_roles_module_role,priority:2;index:idx_roles_role_active,priority:1" json:"role"`
	IsActive        bool           `gorm:"not null;index:idx_roles_user_active,priority:2;index:idx_roles_role_active,priority:2" json:"is_active"`
	AssignedAt      time.Time      `gorm:"not null" json:"assigned_at"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	AssignedBy      uint           `gorm:"not null;index" json:"assigned_by"`
	AssignmentNotes *string        `gorm:"type:text" json:"assignment_notes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (RoleAssignment) TableName() string { return "module_role_assignments" }

// IsActiveAt mirrors activeRoleCondition for an already loaded row.
func (a RoleAssignment) IsActiveAt(now time.Time) bool {
	return a.IsActive && notExpired(a.ExpiresAt, now)
}

// ModuleWithRole decorates an accessible module with the user's current role in it.
type ModuleWithRole struct {
	Module
	UserRole *Role `json:"user_role"`
}

func notExpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || expiresAt.After(now)
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
