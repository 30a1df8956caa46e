package moduleaccess

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeRoleCondition = "is_active = ? AND (expires_at IS NULL OR expires_at > ?)"

func activeRoles(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(activeRoleCondition, true, now.UTC())
	}
}

// RoleFilter narrows ListAssignments. Zero fields do not filter.
type RoleFilter struct {
	ModuleName string
	Role       Role
	// ActiveAt keeps only assignments in force at that instant.
	ActiveAt *time.Time
}

// RoleAssignmentStore persists RoleAssignment rows keyed by (user, module).
type RoleAssignmentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRoleAssignmentStore returns a store backed by db. A nil logger discards output.
func NewRoleAssignmentStore(db *gorm.DB, logger *zap.Logger) *RoleAssignmentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleAssignmentStore{db: db, logger: logger.Named("role_assignments")}
}

func (s *RoleAssignmentStore) withTx(tx *gorm.DB) *RoleAssignmentStore {
	return &RoleAssignmentStore{db: tx, logger: s.logger}
}

// AssignRole sets userID's role in moduleName, replacing any previous role.
// Like Grant, each call restates the expiry.
func (s *RoleAssignmentStore) AssignRole(ctx context.Context, userID uint, moduleName string, role Role, assignedBy uint, notes string, now time.Time, opts ...LifetimeOption) (*RoleAssignment, error) {
	if userID == 0 || moduleName == "" || role == "" || assignedBy == 0 {
		return nil, ErrInvalidInput
	}
	lt := resolveLifetime(opts)

	row := RoleAssignment{
		UserID:          userID,
		ModuleName:      moduleName,
		Role:            role,
		IsActive:        true,
		AssignedAt:      now.UTC(),
		ExpiresAt:       lt.expiresAt,
		AssignedBy:      assignedBy,
		AssignmentNotes: optionalText(notes),
	}

	var out RoleAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "module_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"role", "is_active", "assigned_at", "expires_at", "assigned_by", "assignment_notes", "updated_at", "deleted_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND module_name = ?", userID, moduleName).First(&out).Error
	})
	if err != nil {
		return nil, s.logError("role_assignment_upsert_failed", classifyStorageError(err),
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
			zap.String("role", string(role)),
		)
	}
	return &out, nil
}

// Deactivate switches the assignment off. Missing rows are ignored.
func (s *RoleAssignmentStore) Deactivate(ctx context.Context, userID uint, moduleName string) error {
	if userID == 0 || moduleName == "" {
		return ErrInvalidInput
	}
	err := s.db.WithContext(ctx).Model(&RoleAssignment{}).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Update("is_active", false).Error
	if err != nil {
		return s.logError("role_assignment_deactivate_failed", classifyStorageError(err),
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return nil
}

// ActiveRole returns the role userID holds in moduleName at now. ok is false
// when there is no assignment or it is inactive or expired.
func (s *RoleAssignmentStore) ActiveRole(ctx context.Context, userID uint, moduleName string, now time.Time) (role Role, ok bool, err error) {
	if userID == 0 || moduleName == "" {
		return "", false, ErrInvalidInput
	}
	var rows []RoleAssignment
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Scopes(activeRoles(now)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return "", false, s.logError("role_assignment_active_role_failed", err,
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].Role, true, nil
}

// ActiveRoles returns every role userID holds at now, keyed by module name.
func (s *RoleAssignmentStore) ActiveRoles(ctx context.Context, userID uint, now time.Time) (map[string]Role, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	var rows []RoleAssignment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Scopes(activeRoles(now)).
		Find(&rows).Error
	if err != nil {
		return nil, s.logError("role_assignment_active_roles_failed", err, zap.Uint("user_id", userID))
	}
	roles := make(map[string]Role, len(rows))
	for _, row := range rows {
		roles[row.ModuleName] = row.Role
	}
	return roles, nil
}

// Get returns the stored assignment regardless of whether it is active.
func (s *RoleAssignmentStore) Get(ctx context.Context, userID uint, moduleName string) (*RoleAssignment, error) {
	if userID == 0 || moduleName == "" {
		return nil, ErrInvalidInput
	}
	var row RoleAssignment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.logError("role_assignment_get_failed", err,
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return &row, nil
}

// ListByModule returns all assignments in moduleName.
func (s *RoleAssignmentStore) ListByModule(ctx context.Context, moduleName string) ([]RoleAssignment, error) {
	if moduleName == "" {
		return nil, ErrInvalidInput
	}
	return s.ListAssignments(ctx, RoleFilter{ModuleName: moduleName})
}

// ListByRole returns all assignments holding role, across modules.
func (s *RoleAssignmentStore) ListByRole(ctx context.Context, role Role) ([]RoleAssignment, error) {
	if role == "" {
		return nil, ErrInvalidInput
	}
	return s.ListAssignments(ctx, RoleFilter{Role: role})
}

// ListAssignments returns assignments matching f ordered by module then user.
func (s *RoleAssignmentStore) ListAssignments(ctx context.Context, f RoleFilter) ([]RoleAssignment, error) {
	query := s.db.WithContext(ctx).Order("module_name ASC").Order("user_id ASC")
	if f.ModuleName != "" {
		query = query.Where("module_name = ?", f.ModuleName)
	}
	if f.Role != "" {
		query = query.Where("role = ?", f.Role)
	}
	if f.ActiveAt != nil {
		query = query.Scopes(activeRoles(*f.ActiveAt))
	}
	var rows []RoleAssignment
	if err := query.Find(&rows).Error; err != nil {
		return nil, s.logError("role_assignment_list_failed", err,
			zap.String("module", f.ModuleName),
			zap.String("role", string(f.Role)),
		)
	}
	return rows, nil
}

func (s *RoleAssignmentStore) logError(event string, err error, fields ...zap.Field) error {
	s.logger.Error(event, append(fields, zap.Error(err))...)
	return err
}
