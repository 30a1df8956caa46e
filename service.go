package moduleaccess

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config holds the configuration for the module access service
type Config struct {
	DB          *gorm.DB
	RedisClient *redis.Client
	CacheTTL    time.Duration
	CachePrefix string
	AutoMigrate bool
	// EnforceForeignKeys adds the postgres foreign keys linking grants and
	// roles to UsersTable, which must exist. The keys to the modules table
	// are always installed on postgres.
	EnforceForeignKeys bool
	UsersTable         string
	Logger             *zap.Logger
	// Now is the clock used by the route guards. Defaults to time.Now.
	Now func() time.Time
}

// Service bundles the registry, both stores and the evaluator over one database.
type Service struct {
	*Evaluator

	db      *gorm.DB
	logger  *zap.Logger
	now     func() time.Time
	Modules *ModuleRegistry
	Grants  *AccessGrantStore
	Roles   *RoleAssignmentStore
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// NewService initializes a new module access service
func NewService(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "moduleaccess:"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.UsersTable == "" {
		cfg.UsersTable = "users"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.AutoMigrate {
		if err := Migrate(cfg.DB); err != nil {
			return nil, err
		}
		if cfg.DB.Dialector.Name() == "postgres" {
			if err := addForeignKeys(cfg.DB, cfg.UsersTable, cfg.EnforceForeignKeys); err != nil {
				return nil, err
			}
		}
	}

	modules := NewModuleRegistry(cfg.DB, cfg.Logger).WithCache(cfg.RedisClient, cfg.CachePrefix, cfg.CacheTTL)
	grants := NewAccessGrantStore(cfg.DB, cfg.Logger)
	roles := NewRoleAssignmentStore(cfg.DB, cfg.Logger)

	return &Service{
		Evaluator: NewEvaluator(grants, roles, modules),
		db:        cfg.DB,
		logger:    cfg.Logger,
		now:       cfg.Now,
		Modules:   modules,
		Grants:    grants,
		Roles:     roles,
	}, nil
}

// Migrate creates or updates the three tables and their indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Module{}, &AccessGrant{}, &RoleAssignment{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

type foreignKey struct {
	model     interface{}
	table     string
	name      string
	column    string
	refTable  string
	refColumn string
	onDelete  string
}

// foreignKeys lists the referential policy: the subject user and the module
// cascade, the granting user restricts deletion. The keys to usersTable are
// included only when withUsers is set.
func foreignKeys(usersTable string, withUsers bool) ([]foreignKey, error) {
	grants := AccessGrant{}.TableName()
	roles := RoleAssignment{}.TableName()
	keys := []foreignKey{
		{&AccessGrant{}, grants, "fk_access_grants_module", "module_name", "modules", "name", "CASCADE"},
		{&RoleAssignment{}, roles, "fk_role_assignments_module", "module_name", "modules", "name", "CASCADE"},
	}
	if !withUsers {
		return keys, nil
	}
	if !identifierPattern.MatchString(usersTable) {
		return nil, fmt.Errorf("%w: users table %q", ErrInvalidInput, usersTable)
	}
	return append(keys,
		foreignKey{&AccessGrant{}, grants, "fk_access_grants_user", "user_id", usersTable, "id", "CASCADE"},
		foreignKey{&AccessGrant{}, grants, "fk_access_grants_granted_by", "granted_by", usersTable, "id", "RESTRICT"},
		foreignKey{&RoleAssignment{}, roles, "fk_role_assignments_user", "user_id", usersTable, "id", "CASCADE"},
		foreignKey{&RoleAssignment{}, roles, "fk_role_assignments_assigned_by", "assigned_by", usersTable, "id", "RESTRICT"},
	), nil
}

func addForeignKeys(db *gorm.DB, usersTable string, withUsers bool) error {
	keys, err := foreignKeys(usersTable, withUsers)
	if err != nil {
		return err
	}
	for _, fk := range keys {
		if db.Migrator().HasConstraint(fk.model, fk.name) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s",
			fk.table, fk.name, fk.column, fk.refTable, fk.refColumn, fk.onDelete)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create constraint %s: %w", fk.name, err)
		}
	}
	return nil
}

// GrantAccess is AccessGrantStore.Grant guarded by the module registry: the
// module must be registered.
func (s *Service) GrantAccess(ctx context.Context, userID uint, moduleName string, grantedBy uint, notes string, now time.Time, opts ...LifetimeOption) (*AccessGrant, error) {
	if _, err := s.requireModule(ctx, moduleName); err != nil {
		return nil, err
	}
	grant, err := s.Grants.Grant(ctx, userID, moduleName, grantedBy, notes, now, opts...)
	if err != nil {
		return nil, err
	}
	s.logger.Info("module_access_granted",
		zap.Uint("user_id", userID),
		zap.String("module", moduleName),
		zap.Uint("granted_by", grantedBy),
	)
	return grant, nil
}

// GrantWithRole grants access and assigns role in one transaction. The role
// must be one the module offers.
func (s *Service) GrantWithRole(ctx context.Context, userID uint, moduleName string, role Role, grantedBy uint, notes string, now time.Time, opts ...LifetimeOption) (*AccessGrant, *RoleAssignment, error) {
	if err := s.checkRoleOffered(ctx, moduleName, role); err != nil {
		return nil, nil, err
	}

	var (
		grant      *AccessGrant
		assignment *RoleAssignment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if grant, err = s.Grants.withTx(tx).Grant(ctx, userID, moduleName, grantedBy, notes, now, opts...); err != nil {
			return err
		}
		assignment, err = s.Roles.withTx(tx).AssignRole(ctx, userID, moduleName, role, grantedBy, notes, now, opts...)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("module_access_granted",
		zap.Uint("user_id", userID),
		zap.String("module", moduleName),
		zap.String("role", string(role)),
		zap.Uint("granted_by", grantedBy),
	)
	return grant, assignment, nil
}

// AssignModuleRole is RoleAssignmentStore.AssignRole guarded by the module's
// available roles.
func (s *Service) AssignModuleRole(ctx context.Context, userID uint, moduleName string, role Role, assignedBy uint, notes string, now time.Time, opts ...LifetimeOption) (*RoleAssignment, error) {
	if err := s.checkRoleOffered(ctx, moduleName, role); err != nil {
		return nil, err
	}
	assignment, err := s.Roles.AssignRole(ctx, userID, moduleName, role, assignedBy, notes, now, opts...)
	if err != nil {
		return nil, err
	}
	s.logger.Info("module_role_assigned",
		zap.Uint("user_id", userID),
		zap.String("module", moduleName),
		zap.String("role", string(role)),
		zap.Uint("assigned_by", assignedBy),
	)
	return assignment, nil
}

// RevokeModuleAccess withdraws the grant and switches off the role together,
// so a later re-grant does not silently revive the old role.
func (s *Service) RevokeModuleAccess(ctx context.Context, userID uint, moduleName string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Grants.withTx(tx).Revoke(ctx, userID, moduleName); err != nil {
			return err
		}
		return s.Roles.withTx(tx).Deactivate(ctx, userID, moduleName)
	})
	if err != nil {
		return err
	}
	s.logger.Info("module_access_revoked", zap.Uint("user_id", userID), zap.String("module", moduleName))
	return nil
}

// Ping checks database connectivity.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Service) checkRoleOffered(ctx context.Context, moduleName string, role Role) error {
	if role == "" {
		return ErrInvalidInput
	}
	mod, err := s.requireModule(ctx, moduleName)
	if err != nil {
		return err
	}
	if !mod.OffersRole(role) {
		return fmt.Errorf("%w: %s does not offer %q", ErrRoleNotAvailable, moduleName, role)
	}
	return nil
}

// requireModule returns the registered module. A missing module is a
// dangling reference and reported as ErrConstraintViolation.
func (s *Service) requireModule(ctx context.Context, moduleName string) (*Module, error) {
	mod, err := s.Modules.FindByName(ctx, moduleName)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: module %q is not registered", ErrConstraintViolation, moduleName)
	}
	return mod, err
}
