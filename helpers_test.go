package moduleaccess

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestDB returns a migrated in-memory sqlite database private to t.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{DB: newTestDB(t)})
	require.NoError(t, err)
	return svc
}

// seedModules registers the default modules plus a Billing module offering
// the full role set.
func seedModules(t *testing.T, svc *Service) {
	t.Helper()
	mods := append(DefaultModules(), Module{
		Name:           "Billing",
		IsActive:       true,
		AvailableRoles: []string{"viewer", "editor", "admin"},
		DisplayOrder:   5,
	})
	for _, mod := range mods {
		_, err := svc.Modules.Upsert(context.Background(), mod)
		require.NoError(t, err)
	}
}
