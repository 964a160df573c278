package database

import (
	"strings"

	"fractions-backend/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a GORM DB from DSN. Postgres URLs go through pgx with
// PreferSimpleProtocol to avoid 42P05 ("prepared statement already exists")
// behind connection poolers. A "sqlite:" prefix opens a local sqlite file
// (or ":memory:") for development.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; serialise on a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), cfg)
}

// Models lists every persisted aggregate, parents before children.
func Models() []interface{} {
	return []interface{}{
		&domain.Holding{},
		&domain.TokenSupply{},
		&domain.SupplyAdjustment{},
		&domain.VestingSchedule{},
		&domain.ReleaseEntry{},
		&domain.LockupPeriod{},
		&domain.UnlockCondition{},
		&domain.DistributionRun{},
		&domain.DistributionRecord{},
	}
}

// AutoMigrate runs migrations for all engine models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
