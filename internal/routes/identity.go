package routes

import (
	"errors"
	"strings"
	"time"

	"github.com/bohemiyan/moduleaccess"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const permissionsLocal = "permissions"

// PermissionManageModules gates every module management endpoint.
const PermissionManageModules = "system.modules.manage"

// Claims is the identity token issued by the user system. Permissions are
// the coarse, global permission strings held by the user.
type Claims struct {
	UserID      uint     `json:"user_id"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 identity token.
func IssueToken(secret []byte, userID uint, permissions []string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:      userID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticate verifies the bearer token and stores the user id and coarse
// permissions in the request locals.
func Authenticate(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := parseToken(secret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(moduleaccess.UserIDLocal, claims.UserID)
		c.Locals(permissionsLocal, claims.Permissions)
		return c.Next()
	}
}

func parseToken(secret []byte, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UserID == 0 {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

// PermissionChecker answers coarse, global permission questions. It is
// independent of per-module grants and roles.
type PermissionChecker interface {
	HasPermission(c *fiber.Ctx, permission string) bool
}

// ClaimsPermissionChecker reads permissions carried by the identity token.
type ClaimsPermissionChecker struct{}

func (ClaimsPermissionChecker) HasPermission(c *fiber.Ctx, permission string) bool {
	perms, _ := c.Locals(permissionsLocal).([]string)
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RequirePermission rejects requests whose user lacks permission.
func RequirePermission(checker PermissionChecker, permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !checker.HasPermission(c, permission) {
			return fiber.NewError(fiber.StatusForbidden, "missing permission "+permission)
		}
		return c.Next()
	}
}
