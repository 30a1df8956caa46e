package moduleaccess

import (
	"context"
	"time"
)

// AccessChecker answers whether grants are in force.
type AccessChecker interface {
	IsActive(ctx context.Context, userID uint, moduleName string, now time.Time) (bool, error)
	ListActiveModuleNames(ctx context.Context, userID uint, now time.Time) ([]string, error)
}

// RoleResolver answers which role a user currently holds.
type RoleResolver interface {
	ActiveRole(ctx context.Context, userID uint, moduleName string, now time.Time) (Role, bool, error)
	ActiveRoles(ctx context.Context, userID uint, now time.Time) (map[string]Role, error)
}

// ActiveModuleLister returns globally active modules in display order.
type ActiveModuleLister interface {
	ListActive(ctx context.Context) ([]Module, error)
}

var (
	_ AccessChecker      = (*AccessGrantStore)(nil)
	_ RoleResolver       = (*RoleAssignmentStore)(nil)
	_ ActiveModuleLister = (*ModuleRegistry)(nil)
)

// Evaluator combines grants, roles and the registry into permission decisions.
// A false result is a denial, not an error; errors only come from storage.
type Evaluator struct {
	grants  AccessChecker
	roles   RoleResolver
	modules ActiveModuleLister
}

// NewEvaluator wires an Evaluator over the given sources.
func NewEvaluator(grants AccessChecker, roles RoleResolver, modules ActiveModuleLister) *Evaluator {
	return &Evaluator{grants: grants, roles: roles, modules: modules}
}

// HasAccess reports whether userID may use moduleName at all.
func (e *Evaluator) HasAccess(ctx context.Context, userID uint, moduleName string, now time.Time) (bool, error) {
	return e.grants.IsActive(ctx, userID, moduleName, now)
}

// RoleIn returns the user's active role in moduleName, if any.
func (e *Evaluator) RoleIn(ctx context.Context, userID uint, moduleName string, now time.Time) (Role, bool, error) {
	return e.roles.ActiveRole(ctx, userID, moduleName, now)
}

// HasRole reports an exact role match. It ignores the hierarchy: an admin
// does not "have" the editor role.
func (e *Evaluator) HasRole(ctx context.Context, userID uint, moduleName string, role Role, now time.Time) (bool, error) {
	held, ok, err := e.RoleIn(ctx, userID, moduleName, now)
	if err != nil || !ok {
		return false, err
	}
	return held == role, nil
}

// CanPerform reports whether userID may perform an action requiring
// requiredRole in moduleName. Access is checked first and dominates; the held
// role must then rank at least as high as requiredRole.
func (e *Evaluator) CanPerform(ctx context.Context, userID uint, moduleName string, requiredRole Role, now time.Time) (bool, error) {
	allowed, err := e.HasAccess(ctx, userID, moduleName, now)
	if err != nil || !allowed {
		return false, err
	}
	held, ok, err := e.RoleIn(ctx, userID, moduleName, now)
	if err != nil || !ok {
		return false, err
	}
	return held.Satisfies(requiredRole), nil
}

// AccessibleModules returns modules the user is granted that are also
// globally active, in registry display order.
func (e *Evaluator) AccessibleModules(ctx context.Context, userID uint, now time.Time) ([]Module, error) {
	names, err := e.grants.ListActiveModuleNames(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Module{}, nil
	}
	granted := make(map[string]struct{}, len(names))
	for _, name := range names {
		granted[name] = struct{}{}
	}

	active, err := e.modules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Module, 0, len(names))
	for _, mod := range active {
		if _, ok := granted[mod.Name]; ok {
			out = append(out, mod)
		}
	}
	return out, nil
}

// ModulesWithRoles is AccessibleModules with the user's role attached.
// UserRole is nil where the user has access but no active role.
func (e *Evaluator) ModulesWithRoles(ctx context.Context, userID uint, now time.Time) ([]ModuleWithRole, error) {
	mods, err := e.AccessibleModules(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return []ModuleWithRole{}, nil
	}
	roles, err := e.roles.ActiveRoles(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	out := make([]ModuleWithRole, 0, len(mods))
	for _, mod := range mods {
		entry := ModuleWithRole{Module: mod}
		if role, ok := roles[mod.Name]; ok {
			r := role
			entry.UserRole = &r
		}
		out = append(out, entry)
	}
	return out, nil
}

// ModuleAccessEvaluator is the per-principal view of an Evaluator. Anything
// with a user id can be checked through it.
type ModuleAccessEvaluator interface {
	UserID() uint
	HasAccess(ctx context.Context, moduleName string, now time.Time) (bool, error)
	RoleIn(ctx context.Context, moduleName string, now time.Time) (Role, bool, error)
	HasRole(ctx context.Context, moduleName string, role Role, now time.Time) (bool, error)
	CanPerform(ctx context.Context, moduleName string, requiredRole Role, now time.Time) (bool, error)
	AccessibleModules(ctx context.Context, now time.Time) ([]Module, error)
	ModulesWithRoles(ctx context.Context, now time.Time) ([]ModuleWithRole, error)
}

// ForUser binds the evaluator to userID.
func (e *Evaluator) ForUser(userID uint) ModuleAccessEvaluator {
	return userEvaluator{eval: e, userID: userID}
}

type userEvaluator struct {
	eval   *Evaluator
	userID uint
}

func (u userEvaluator) UserID() uint { return u.userID }

func (u userEvaluator) HasAccess(ctx context.Context, moduleName string, now time.Time) (bool, error) {
	return u.eval.HasAccess(ctx, u.userID, moduleName, now)
}

func (u userEvaluator) RoleIn(ctx context.Context, moduleName string, now time.Time) (Role, bool, error) {
	return u.eval.RoleIn(ctx, u.userID, moduleName, now)
}

func (u userEvaluator) HasRole(ctx context.Context, moduleName string, role Role, now time.Time) (bool, error) {
	return u.eval.HasRole(ctx, u.userID, moduleName, role, now)
}

func (u userEvaluator) CanPerform(ctx context.Context, moduleName string, requiredRole Role, now time.Time) (bool, error) {
	return u.eval.CanPerform(ctx, u.userID, moduleName, requiredRole, now)
}

func (u userEvaluator) AccessibleModules(ctx context.Context, now time.Time) ([]Module, error) {
	return u.eval.AccessibleModules(ctx, u.userID, now)
}

func (u userEvaluator) ModulesWithRoles(ctx context.Context, now time.Time) ([]ModuleWithRole, error) {
	return u.eval.ModulesWithRoles(ctx, u.userID, now)
}
