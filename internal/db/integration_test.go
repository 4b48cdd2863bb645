//go:build integration

package db

import (
	"os"
	"strconv"
	"testing"

	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/models"
)

// mysqlConfig reads a throwaway MySQL server from HELPDESK_TEST_MYSQL_*.
func mysqlConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	host := os.Getenv("HELPDESK_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("HELPDESK_TEST_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("HELPDESK_TEST_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	return config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     port,
		User:     os.Getenv("HELPDESK_TEST_MYSQL_USER"),
		Password: os.Getenv("HELPDESK_TEST_MYSQL_PASSWORD"),
		Database: "helpdesk_integration",
	}
}

func TestIntegration_MySQLMigrateAndInsert(t *testing.T) {
	cfg := mysqlConfig(t)

	admin, err := ConnectAdmin(cfg)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(admin, cfg.Database); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	t.Cleanup(func() {
		admin.Exec("DROP DATABASE IF EXISTS `" + cfg.Database + "`")
	})

	gdb, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// Migrating twice must be a no-op.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	latency := 0.5
	if err := gdb.Create(&models.Exchange{UserID: "u1", UserQuery: "hello", BotResponse: "hi", LatencySeconds: &latency}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int64
	gdb.Model(&models.Exchange{}).Count(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
