package routes

import (
	"errors"
	"strconv"
	"time"

	"github.com/bohemiyan/moduleaccess"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type handler struct {
	svc    *moduleaccess.Service
	logger *zap.Logger
	now    func() time.Time
}

type moduleRequest struct {
	DisplayName        string   `json:"display_name"`
	Description        string   `json:"description"`
	Icon               string   `json:"icon"`
	IsActive           bool     `json:"is_active"`
	AvailableRoles     []string `json:"available_roles"`
	RoutePrefix        string   `json:"route_prefix"`
	HasInternalUsers   bool     `json:"has_internal_users"`
	DefaultPermissions []string `json:"default_permissions"`
	DisplayOrder       int      `json:"display_order"`
}

type grantRequest struct {
	Notes     string     `json:"notes"`
	ExpiresAt *time.Time `json:"expires_at"`
	// Role, when set, is assigned together with the grant.
	Role string `json:"role"`
}

type roleRequest struct {
	Role      string     `json:"role"`
	Notes     string     `json:"notes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type bulkGrantRequest struct {
	UserIDs   []uint     `json:"user_ids"`
	Notes     string     `json:"notes"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type checkResponse struct {
	UserID  uint   `json:"user_id"`
	Module  string `json:"module"`
	Role    string `json:"role"`
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

func (h *handler) health(c *fiber.Ctx) error {
	if err := h.svc.Ping(c.UserContext()); err != nil {
		h.logger.Error("health_check_failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"cache":  h.svc.Modules.CacheStats(c.UserContext()),
	})
}

func (h *handler) myModules(c *fiber.Ctx) error {
	userID, _ := moduleaccess.UserIDFromCtx(c)
	mods, err := h.svc.ModulesWithRoles(c.UserContext(), userID, h.now())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(mods)
}

func (h *handler) canPerform(c *fiber.Ctx) error {
	userID, _ := moduleaccess.UserIDFromCtx(c)
	module := c.Params("module")
	role := moduleaccess.ParseRole(c.Params("role"))
	allowed, err := h.svc.CanPerform(c.UserContext(), userID, module, role, h.now())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(checkResponse{UserID: userID, Module: module, Role: string(role), Allowed: allowed})
}

func (h *handler) bulkCheck(c *fiber.Ctx) error {
	var checks []moduleaccess.BulkCheck
	if err := c.BodyParser(&checks); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	for i := range checks {
		checks[i].RequiredRole = moduleaccess.ParseRole(string(checks[i].RequiredRole))
	}
	results := h.svc.CheckBulk(c.UserContext(), checks, h.now())
	out := make([]checkResponse, len(results))
	for i, r := range results {
		out[i] = checkResponse{UserID: r.UserID, Module: r.ModuleName, Role: string(r.RequiredRole), Allowed: r.Allowed}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return c.JSON(out)
}

func (h *handler) listModules(c *fiber.Ctx) error {
	var (
		mods []moduleaccess.Module
		err  error
	)
	if c.QueryBool("active") {
		mods, err = h.svc.Modules.ListActive(c.UserContext())
	} else {
		mods, err = h.svc.Modules.List(c.UserContext())
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(mods)
}

func (h *handler) getModule(c *fiber.Ctx) error {
	mod, err := h.svc.Modules.FindByName(c.UserContext(), c.Params("name"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(mod)
}

func (h *handler) upsertModule(c *fiber.Ctx) error {
	var req moduleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	mod, err := h.svc.Modules.Upsert(c.UserContext(), moduleaccess.Module{
		Name:               c.Params("name"),
		DisplayName:        req.DisplayName,
		Description:        req.Description,
		Icon:               req.Icon,
		IsActive:           req.IsActive,
		AvailableRoles:     req.AvailableRoles,
		RoutePrefix:        req.RoutePrefix,
		HasInternalUsers:   req.HasInternalUsers,
		DefaultPermissions: req.DefaultPermissions,
		DisplayOrder:       req.DisplayOrder,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(mod)
}

func (h *handler) deleteModule(c *fiber.Ctx) error {
	if err := h.svc.Modules.Delete(c.UserContext(), c.Params("name")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) setModuleActive(active bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := h.svc.Modules.SetActive(c.UserContext(), c.Params("name"), active); err != nil {
			return h.fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func (h *handler) listGrants(c *fiber.Ctx) error {
	grants, err := h.svc.Grants.ListByModule(c.UserContext(), c.Params("name"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(grants)
}

func (h *handler) listRoles(c *fiber.Ctx) error {
	filter := moduleaccess.RoleFilter{
		ModuleName: c.Params("name"),
		Role:       moduleaccess.ParseRole(c.Query("role")),
	}
	if c.QueryBool("active") {
		now := h.now()
		filter.ActiveAt = &now
	}
	rows, err := h.svc.Roles.ListAssignments(c.UserContext(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(rows)
}

func (h *handler) grantAccess(c *fiber.Ctx) error {
	actor, _ := moduleaccess.UserIDFromCtx(c)
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	module := c.Params("name")
	expiry := moduleaccess.WithOptionalExpiry(req.ExpiresAt)
	if req.Role != "" {
		grant, role, err := h.svc.GrantWithRole(c.UserContext(), userID, module, moduleaccess.ParseRole(req.Role), actor, req.Notes, h.now(), expiry)
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(fiber.Map{"grant": grant, "role": role})
	}

	grant, err := h.svc.GrantAccess(c.UserContext(), userID, module, actor, req.Notes, h.now(), expiry)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"grant": grant})
}

func (h *handler) revokeAccess(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeModuleAccess(c.UserContext(), userID, c.Params("name")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) assignRole(c *fiber.Ctx) error {
	actor, _ := moduleaccess.UserIDFromCtx(c)
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	role, err := h.svc.AssignModuleRole(c.UserContext(), userID, c.Params("name"), moduleaccess.ParseRole(req.Role), actor, req.Notes, h.now(),
		moduleaccess.WithOptionalExpiry(req.ExpiresAt))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(role)
}

func (h *handler) deactivateRole(c *fiber.Ctx) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Roles.Deactivate(c.UserContext(), userID, c.Params("name")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) bulkGrant(c *fiber.Ctx) error {
	actor, _ := moduleaccess.UserIDFromCtx(c)
	var req bulkGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	grants, err := h.svc.BulkGrant(c.UserContext(), req.UserIDs, c.Params("name"), actor, req.Notes, h.now(),
		moduleaccess.WithOptionalExpiry(req.ExpiresAt))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(grants)
}

func userIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("userID"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	return uint(id), nil
}

// fail maps core errors onto HTTP statuses.
func (h *handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, moduleaccess.ErrInvalidInput):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, moduleaccess.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, moduleaccess.ErrRoleNotAvailable):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, moduleaccess.ErrConstraintViolation):
		return fiber.NewError(fiber.StatusConflict, "conflicting change")
	}
	h.logger.Error("request_failed", zap.String("path", c.Path()), zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}
