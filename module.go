package moduleaccess

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultModuleIcon = "default"

// ModuleRegistry stores module definitions. Reads of the active set go
// through an optional redis cache that every write invalidates.
type ModuleRegistry struct {
	db     *gorm.DB
	cache  *moduleCache
	logger *zap.Logger
}

// NewModuleRegistry returns a registry backed by db with caching disabled.
func NewModuleRegistry(db *gorm.DB, logger *zap.Logger) *ModuleRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleRegistry{db: db, logger: logger.Named("modules")}
}

// ListActive returns active modules ordered by display order, then name.
func (r *ModuleRegistry) ListActive(ctx context.Context) ([]Module, error) {
	gen, cacheable := r.cache.generation(ctx)
	if cacheable {
		if mods, ok := r.cache.activeModules(ctx, gen); ok {
			return mods, nil
		}
	}

	var mods []Module
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("display_order ASC").
		Order("name ASC").
		Find(&mods).Error; err != nil {
		return nil, r.logError("module_registry_list_active_failed", err)
	}

	if cacheable {
		if err := r.cache.storeActiveModules(ctx, gen, mods); err != nil {
			r.logger.Warn("module_cache_store_failed", zap.Error(err))
		}
	}
	return mods, nil
}

// List returns every non-deleted module, active or not, in display order.
func (r *ModuleRegistry) List(ctx context.Context) ([]Module, error) {
	var mods []Module
	if err := r.db.WithContext(ctx).
		Order("display_order ASC").
		Order("name ASC").
		Find(&mods).Error; err != nil {
		return nil, r.logError("module_registry_list_failed", err)
	}
	return mods, nil
}

// FindByName returns the module or ErrNotFound.
func (r *ModuleRegistry) FindByName(ctx context.Context, name string) (*Module, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}
	var mod Module
	if err := r.db.WithContext(ctx).Where("name = ?", name).Take(&mod).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, r.logError("module_registry_find_failed", err, zap.String("module", name))
	}
	return &mod, nil
}

// Upsert inserts mod or overwrites the definition stored under the same name.
// A soft-deleted module with that name is brought back.
func (r *ModuleRegistry) Upsert(ctx context.Context, mod Module) (*Module, error) {
	mod.Name = strings.TrimSpace(mod.Name)
	if mod.Name == "" {
		return nil, ErrInvalidInput
	}
	if mod.DisplayName == "" {
		mod.DisplayName = mod.Name
	}
	if mod.Icon == "" {
		mod.Icon = defaultModuleIcon
	}
	mod.ID = 0
	mod.DeletedAt = gorm.DeletedAt{}

	var out Module
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "description", "icon", "is_active", "available_roles", "route_prefix",
				"has_internal_users", "default_permissions", "display_order", "updated_at", "deleted_at",
			}),
		}).Create(&mod).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", mod.Name).First(&out).Error
	})
	if err != nil {
		return nil, r.logError("module_registry_upsert_failed", classifyStorageError(err), zap.String("module", mod.Name))
	}

	r.invalidate(ctx)
	return &out, nil
}

// SetActive flips the module's global active flag.
func (r *ModuleRegistry) SetActive(ctx context.Context, name string, active bool) error {
	if name == "" {
		return ErrInvalidInput
	}
	res := r.db.WithContext(ctx).Model(&Module{}).Where("name = ?", name).Update("is_active", active)
	if res.Error != nil {
		return r.logError("module_registry_set_active_failed", res.Error, zap.String("module", name))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	r.invalidate(ctx)
	return nil
}

// Delete soft-deletes the module. Its grants and roles are kept; the module
// simply stops appearing in registry reads.
func (r *ModuleRegistry) Delete(ctx context.Context, name string) error {
	if name == "" {
		return ErrInvalidInput
	}
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&Module{})
	if res.Error != nil {
		return r.logError("module_registry_delete_failed", res.Error, zap.String("module", name))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	r.invalidate(ctx)
	return nil
}

func (r *ModuleRegistry) invalidate(ctx context.Context) {
	if err := r.cache.invalidate(ctx); err != nil {
		r.logger.Warn("module_cache_invalidate_failed", zap.Error(err))
	}
}

func (r *ModuleRegistry) logError(event string, err error, fields ...zap.Field) error {
	r.logger.Error(event, append(fields, zap.Error(err))...)
	return err
}
