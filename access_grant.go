package moduleaccess

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activeGrantCondition is a single conjunction. The expiry alternatives are
// grouped so they can never widen the has_access filter.
const activeGrantCondition = "has_access = ? AND (expires_at IS NULL OR expires_at > ?)"

// activeGrants scopes a query to grants that are in force at now.
func activeGrants(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(activeGrantCondition, true, now.UTC())
	}
}

// AccessGrantStore persists AccessGrant rows keyed by (user, module).
type AccessGrantStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAccessGrantStore returns a store backed by db. A nil logger discards output.
func NewAccessGrantStore(db *gorm.DB, logger *zap.Logger) *AccessGrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessGrantStore{db: db, logger: logger.Named("access_grants")}
}

func (s *AccessGrantStore) withTx(tx *gorm.DB) *AccessGrantStore {
	return &AccessGrantStore{db: tx, logger: s.logger}
}

// Grant gives userID access to moduleName as of now. The row is written with a
// single insert-or-update on the (user_id, module_name) unique index, so
// concurrent grants for the same key leave exactly one row. Every call restates
// the grant's lifetime: without WithExpiry the grant never expires.
func (s *AccessGrantStore) Grant(ctx context.Context, userID uint, moduleName string, grantedBy uint, notes string, now time.Time, opts ...LifetimeOption) (*AccessGrant, error) {
	if userID == 0 || moduleName == "" || grantedBy == 0 {
		return nil, ErrInvalidInput
	}
	lt := resolveLifetime(opts)

	row := AccessGrant{
		UserID:     userID,
		ModuleName: moduleName,
		HasAccess:  true,
		Notes:      optionalText(notes),
		GrantedAt:  now.UTC(),
		ExpiresAt:  lt.expiresAt,
		GrantedBy:  grantedBy,
	}

	var out AccessGrant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "module_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"has_access", "notes", "granted_at", "expires_at", "granted_by", "updated_at", "deleted_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND module_name = ?", userID, moduleName).First(&out).Error
	})
	if err != nil {
		return nil, s.logError("access_grant_upsert_failed", classifyStorageError(err),
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return &out, nil
}

// Revoke withdraws access without deleting the row. Revoking a grant that
// does not exist is not an error.
func (s *AccessGrantStore) Revoke(ctx context.Context, userID uint, moduleName string) error {
	if userID == 0 || moduleName == "" {
		return ErrInvalidInput
	}
	err := s.db.WithContext(ctx).Model(&AccessGrant{}).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Update("has_access", false).Error
	if err != nil {
		return s.logError("access_grant_revoke_failed", classifyStorageError(err),
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return nil
}

// IsActive reports whether userID holds an unexpired grant for moduleName at now.
func (s *AccessGrantStore) IsActive(ctx context.Context, userID uint, moduleName string, now time.Time) (bool, error) {
	if userID == 0 || moduleName == "" {
		return false, ErrInvalidInput
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&AccessGrant{}).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Scopes(activeGrants(now)).
		Count(&count).Error
	if err != nil {
		return false, s.logError("access_grant_is_active_failed", err,
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return count > 0, nil
}

// ListActiveModuleNames returns, sorted by name, every module userID may use at now.
func (s *AccessGrantStore) ListActiveModuleNames(ctx context.Context, userID uint, now time.Time) ([]string, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	var names []string
	err := s.db.WithContext(ctx).Model(&AccessGrant{}).
		Where("user_id = ?", userID).
		Scopes(activeGrants(now)).
		Order("module_name ASC").
		Pluck("module_name", &names).Error
	if err != nil {
		return nil, s.logError("access_grant_list_active_failed", err, zap.Uint("user_id", userID))
	}
	return names, nil
}

// Get returns the stored grant regardless of whether it is active.
func (s *AccessGrantStore) Get(ctx context.Context, userID uint, moduleName string) (*AccessGrant, error) {
	if userID == 0 || moduleName == "" {
		return nil, ErrInvalidInput
	}
	var grant AccessGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND module_name = ?", userID, moduleName).
		Take(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.logError("access_grant_get_failed", err,
			zap.Uint("user_id", userID),
			zap.String("module", moduleName),
		)
	}
	return &grant, nil
}

// ListByModule returns every grant row for moduleName ordered by user.
func (s *AccessGrantStore) ListByModule(ctx context.Context, moduleName string) ([]AccessGrant, error) {
	if moduleName == "" {
		return nil, ErrInvalidInput
	}
	var grants []AccessGrant
	if err := s.db.WithContext(ctx).
		Where("module_name = ?", moduleName).
		Order("user_id ASC").
		Find(&grants).Error; err != nil {
		return nil, s.logError("access_grant_list_by_module_failed", err, zap.String("module", moduleName))
	}
	return grants, nil
}

func (s *AccessGrantStore) logError(event string, err error, fields ...zap.Field) error {
	s.logger.Error(event, append(fields, zap.Error(err))...)
	return err
}
