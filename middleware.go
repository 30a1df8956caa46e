package moduleaccess

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UserIDLocal is the fiber.Ctx locals key the identity layer stores the
// authenticated user id under.
const UserIDLocal = "user_id"

// UserIDFromCtx returns the authenticated user id set by the identity layer.
func UserIDFromCtx(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals(UserIDLocal).(uint)
	return id, ok && id != 0
}

// RequireModuleAccess provides Fiber middleware rejecting users without an
// active grant for moduleName.
func (s *Service) RequireModuleAccess(moduleName string) fiber.Handler {
	return s.guard(moduleName, func(c *fiber.Ctx, userID uint, now time.Time) (bool, error) {
		return s.HasAccess(c.UserContext(), userID, moduleName, now)
	})
}

// RequireModuleRole provides Fiber middleware rejecting users that cannot
// perform actions requiring role in moduleName.
func (s *Service) RequireModuleRole(moduleName string, role Role) fiber.Handler {
	return s.guard(moduleName, func(c *fiber.Ctx, userID uint, now time.Time) (bool, error) {
		return s.CanPerform(c.UserContext(), userID, moduleName, role, now)
	})
}

func (s *Service) guard(moduleName string, decide func(*fiber.Ctx, uint, time.Time) (bool, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := UserIDFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "user_id not found in context")
		}
		allowed, err := decide(c, userID, s.now())
		if err != nil {
			s.logger.Error("module_guard_failed", zap.Uint("user_id", userID), zap.String("module", moduleName), zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "access check failed")
		}
		if !allowed {
			return fiber.NewError(fiber.StatusForbidden, "access to module "+moduleName+" denied")
		}
		return c.Next()
	}
}
