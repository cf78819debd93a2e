package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jastip/internal/config"
	"jastip/pkg/log"
)

var (
	DB *gorm.DB
)

// Init initialize the pooled database connection used by repositories
func Init(cfg *config.Config) error {
	db, err := open(buildDSN(cfg.Database, cfg.Database.Host, cfg.Database.Port), cfg.Log.Level)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	DB = db
	log.Info("Database connected successfully")
	return nil
}

// OpenDirect opens a dedicated single-connection database handle for the
// queue. The lease/visibility reads rely on session-scoped locking, so the
// handle is pinned to exactly one connection and must not go through a
// transaction-level pooler.
func OpenDirect(cfg *config.Config) (*gorm.DB, error) {
	host := cfg.Database.DirectHost
	port := cfg.Database.DirectPort
	if host == "" {
		host = cfg.Database.Host
		port = cfg.Database.Port
	}

	db, err := open(buildDSN(cfg.Database, host, port), cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return db, nil
}

// ValidateDirectConnection verifies the handle talks to a single stable
// database session. A pooling proxy hands successive statements to
// different backend sessions, which silently breaks lease exclusivity,
// so callers treat a failure here as fatal.
func ValidateDirectConnection(ctx context.Context, db *gorm.DB) error {
	var first, second uint64
	if err := db.WithContext(ctx).Raw("SELECT CONNECTION_ID()").Scan(&first).Error; err != nil {
		return fmt.Errorf("failed to read connection id: %w", err)
	}
	if err := db.WithContext(ctx).Raw("SELECT CONNECTION_ID()").Scan(&second).Error; err != nil {
		return fmt.Errorf("failed to read connection id: %w", err)
	}
	if first != second {
		return fmt.Errorf("connection id changed between statements (%d -> %d): connection appears to be pooled", first, second)
	}
	return nil
}

// Close close database connection
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB get database connection instance
func GetDB() *gorm.DB {
	return DB
}

// Health check database health status
func Health() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

func open(dsn string, logLevel string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.New(
			log.GetLogger(),
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  getLogLevel(logLevel),
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// buildDSN build MySQL connection string
func buildDSN(cfg config.DatabaseConfig, host string, port int) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		cfg.Username,
		cfg.Password,
		host,
		port,
		cfg.DBName,
	)
}

// getLogLevel convert log level string to gorm logger.LogLevel
func getLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "info":
		return logger.Warn
	default:
		return logger.Error
	}
}
