package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bohemiyan/moduleaccess"
	"github.com/bohemiyan/moduleaccess/internal/config"
	"github.com/bohemiyan/moduleaccess/internal/db"
	"github.com/bohemiyan/moduleaccess/internal/routes"
	"github.com/bohemiyan/moduleaccess/zapLogger"
	"github.com/gofiber/fiber/v2"
)

func main() {
	// Initialize zapLogger
	logFile := zapLogger.Init("")
	defer logFile.Close()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Log.Fatalf("Failed to load config: %v", err)
	}

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Infof("Successfully connected to PostgreSQL database using %s driver", cfg.PostgresDriver)
	defer pgDB.Close()

	ctx := context.Background()
	redisDB, err := db.NewRedisClient(ctx, cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	if redisDB != nil {
		zapLogger.Log.Info("Successfully connected to Redis")
		defer redisDB.Close()
	} else {
		zapLogger.Log.Info("Redis disabled, module cache is off")
	}

	svc, err := moduleaccess.NewService(moduleaccess.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		CacheTTL:           cfg.ModuleCacheTTL,
		CachePrefix:        cfg.CachePrefix,
		AutoMigrate:        cfg.AutoMigrate,
		EnforceForeignKeys: cfg.EnforceForeignKeys,
		UsersTable:         cfg.UsersTable,
		Logger:             zapLogger.Structured(),
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize module access service: %v", err)
	}

	if cfg.SeedOnStart {
		seeds := moduleaccess.AdminSeedGrants(cfg.SeedAdminUserID)
		if err := svc.Provision(ctx, moduleaccess.DefaultModules(), seeds, cfg.SeedAdminUserID, time.Now()); err != nil {
			zapLogger.Log.Fatalf("Failed to provision default modules: %v", err)
		}
	}

	// Set up Fiber app
	app := fiber.New(fiber.Config{ErrorHandler: routes.ErrorHandler})

	// Middleware
	app.Use(zapLogger.FiberLoggingMiddleware(logFile))

	routes.Setup(app, routes.Deps{
		Service:   svc,
		JWTSecret: []byte(cfg.JWTSecret),
		Logger:    zapLogger.Structured(),
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	log.Fatal(app.Listen(addr))
}
