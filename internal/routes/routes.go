package routes

import (
	"errors"
	"time"

	"github.com/bohemiyan/moduleaccess"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Service     *moduleaccess.Service
	JWTSecret   []byte
	Permissions PermissionChecker
	Logger      *zap.Logger
	// Now supplies the evaluation instant; defaults to time.Now.
	Now func() time.Time
}

func Setup(app *fiber.App, deps Deps) {
	if deps.Permissions == nil {
		deps.Permissions = ClaimsPermissionChecker{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handler{svc: deps.Service, logger: deps.Logger, now: deps.Now}

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))

	app.Get("/healthz", h.health)

	api := app.Group("/api/v1", Authenticate(deps.JWTSecret))

	api.Get("/me/modules", h.myModules)
	api.Get("/me/modules/:module/can/:role", h.canPerform)
	api.Get("/dashboard",
		deps.Service.RequireModuleRole(moduleaccess.ModuleDashboard, moduleaccess.RoleViewer),
		h.myModules,
	)

	manage := RequirePermission(deps.Permissions, PermissionManageModules)

	api.Post("/checks", manage, h.bulkCheck)

	modules := api.Group("/modules", manage)
	modules.Get("/", h.listModules)
	modules.Get("/:name", h.getModule)
	modules.Put("/:name", h.upsertModule)
	modules.Delete("/:name", h.deleteModule)
	modules.Post("/:name/activate", h.setModuleActive(true))
	modules.Post("/:name/deactivate", h.setModuleActive(false))

	modules.Get("/:name/grants", h.listGrants)
	modules.Post("/:name/grants/bulk", h.bulkGrant)
	modules.Get("/:name/roles", h.listRoles)

	modules.Put("/:name/users/:userID/access", h.grantAccess)
	modules.Delete("/:name/users/:userID/access", h.revokeAccess)
	modules.Put("/:name/users/:userID/role", h.assignRole)
	modules.Delete("/:name/users/:userID/role", h.deactivateRole)
}

// ErrorHandler renders errors as {"error": message} with the fiber status code.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
