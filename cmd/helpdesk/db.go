package main

import (
	"context"
	"fmt"

	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/db"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Exchange log database commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBStatsCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create and migrate the exchange log database",
		Long:  "For MySQL, creates the database if needed. Then migrates the exchange log tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Database); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Database)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the exchange log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	return cmd
}

func runDBStats(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	exchanges, closeDB, err := openExchangeLog(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	stats, err := exchanges.Stats(context.Background())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exchanges:       %d\n", stats.Exchanges)
	fmt.Fprintf(out, "Average latency: %.2fs\n", stats.AvgLatencySecs)
	return nil
}

// openExchangeLog opens and migrates the log database without the rest of
// the app.
func openExchangeLog(cfg config.DatabaseConfig) (*exchangelog.Logger, func(), error) {
	gormDB, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB()
		return nil, nil, err
	}
	return exchangelog.New(gormDB), closeDB, nil
}
