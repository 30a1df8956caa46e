package moduleaccess

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedApp(svc *Service) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id, err := strconv.ParseUint(c.Get("X-User-ID"), 10, 64); err == nil {
			c.Locals(UserIDLocal, uint(id))
		}
		return c.Next()
	})
	ok := func(c *fiber.Ctx) error { return c.SendString("ok") }
	app.Get("/billing", svc.RequireModuleAccess("Billing"), ok)
	app.Get("/billing/edit", svc.RequireModuleRole("Billing", RoleEditor), ok)
	app.Get("/billing/admin", svc.RequireModuleRole("Billing", RoleAdmin), ok)
	return app
}

func TestModuleGuards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedModules(t, svc)

	now := time.Now()
	_, _, err := svc.GrantWithRole(ctx, 7, "Billing", RoleEditor, 1, "", now)
	require.NoError(t, err)
	_, err = svc.Grants.Grant(ctx, 8, "Billing", 1, "", now)
	require.NoError(t, err)

	app := newGuardedApp(svc)
	tests := []struct {
		name string
		user string
		path string
		want int
	}{
		{"anonymous", "", "/billing", http.StatusUnauthorized},
		{"editor has access", "7", "/billing", http.StatusOK},
		{"editor edits", "7", "/billing/edit", http.StatusOK},
		{"editor is not admin", "7", "/billing/admin", http.StatusForbidden},
		{"access without role", "8", "/billing", http.StatusOK},
		{"access without role cannot edit", "8", "/billing/edit", http.StatusForbidden},
		{"stranger", "9", "/billing", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestModuleGuardStorageFailure(t *testing.T) {
	svc := newTestService(t)
	app := newGuardedApp(svc)

	sqlDB, err := svc.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	req := httptest.NewRequest(http.MethodGet, "/billing", nil)
	req.Header.Set("X-User-ID", "7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestModuleGuardUsesServiceClock(t *testing.T) {
	ctx := context.Background()
	clock := testNow
	svc, err := NewService(Config{DB: newTestDB(t), Now: func() time.Time { return clock }})
	require.NoError(t, err)
	seedModules(t, svc)

	expiry := testNow.Add(time.Hour)
	_, _, err = svc.GrantWithRole(ctx, 7, "Billing", RoleEditor, 1, "", testNow, WithExpiry(expiry))
	require.NoError(t, err)

	app := newGuardedApp(svc)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"before expiry", expiry.Add(-time.Second), http.StatusOK},
		{"at expiry", expiry, http.StatusForbidden},
		{"after expiry", expiry.Add(time.Minute), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock = tt.at
			req := httptest.NewRequest(http.MethodGet, "/billing/edit", nil)
			req.Header.Set("X-User-ID", "7")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
