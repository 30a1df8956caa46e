package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bohemiyan/moduleaccess/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresDB wraps both sql.DB and gorm.DB over one connection pool.
type PostgresDB struct {
	DB     *sql.DB
	GormDB *gorm.DB
}

// NewPostgresDB opens the pool with the configured driver ("pgx" or lib/pq's
// "postgres") and hands the same pool to GORM.
func NewPostgresDB(cfg *config.Config) (*PostgresDB, error) {
	db, err := sql.Open(cfg.PostgresDriver, cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &PostgresDB{
		DB:     db,
		GormDB: gormDB,
	}, nil
}

func (p *PostgresDB) Close() error {
	if err := p.DB.Close(); err != nil {
		return fmt.Errorf("failed to close sql.DB: %w", err)
	}
	return nil
}
