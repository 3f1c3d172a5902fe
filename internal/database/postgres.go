package database

import (
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/labflags/internal/config"
)

// Open picks the sqlite driver for sqlite:, file: and *.db DSNs and postgres for everything else.
func Open(cfg *config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if dsn, ok := sqliteDSN(cfg.DatabaseURL); ok {
		return gorm.Open(sqlite.Open(dsn), gcfg)
	}
	return gorm.Open(postgres.Open(cfg.DatabaseURL), gcfg)
}

func sqliteDSN(raw string) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "sqlite://"):
		return strings.TrimPrefix(raw, "sqlite://"), true
	case strings.HasPrefix(raw, "sqlite:"):
		return strings.TrimPrefix(raw, "sqlite:"), true
	case strings.HasPrefix(raw, "file:"), strings.HasSuffix(raw, ".db"):
		return raw, true
	}
	return "", false
}
