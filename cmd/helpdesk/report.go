package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Daily usage report commands",
	}

	cmd.AddCommand(newReportBuildCmd())
	cmd.AddCommand(newReportSendCmd())
	return cmd
}

func newReportBuildCmd() *cobra.Command {
	var configPath, date string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Write the usage spreadsheet for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, configPath, date, false)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	cmd.Flags().StringVarP(&date, "date", "d", "", "day to report, dd-mm-yyyy (defaults to yesterday)")
	return cmd
}

func newReportSendCmd() *cobra.Command {
	var configPath, date string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build and email the usage report for one day",
		Long:  "Builds the usage spreadsheet and mails it to report.to and report.cc, as the scheduled job does.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, configPath, date, true)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	cmd.Flags().StringVarP(&date, "date", "d", "", "day to report, dd-mm-yyyy (defaults to yesterday)")
	return cmd
}

// reportDay parses a dd-mm-yyyy flag, defaulting to the day before now.
func reportDay(date string, now time.Time) (time.Time, error) {
	if date == "" {
		return now.AddDate(0, 0, -1), nil
	}
	day, err := time.ParseInLocation(exchangelog.DateLayout, date, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("report: date %q is not dd-mm-yyyy", date)
	}
	return day, nil
}

func runReport(cmd *cobra.Command, configPath, date string, send bool) error {
	out := cmd.OutOrStdout()

	day, err := reportDay(date, time.Now())
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	exchanges, closeDB, err := openExchangeLog(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := context.Background()
	if !send {
		builder, err := report.NewBuilder(report.BuilderOpts{Source: exchanges, OutputDir: cfg.Report.OutputDir})
		if err != nil {
			return err
		}
		r, err := builder.Build(ctx, day)
		if err != nil {
			return err
		}
		if r.Empty() {
			fmt.Fprintf(out, "No exchanges on %s; nothing written\n", day.Format(exchangelog.DateLayout))
			return nil
		}
		fmt.Fprintf(out, "Wrote %s (%d exchanges)\n", r.Path, r.Rows)
		return nil
	}

	builder, mailer, err := newReportPipeline(cfg.Report, exchanges)
	if err != nil {
		return err
	}
	scheduler, err := report.NewScheduler(report.SchedulerOpts{Builder: builder, Sender: mailer, Cron: cfg.Report.Cron})
	if err != nil {
		return err
	}
	if err := scheduler.RunOnce(ctx, day); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent usage report for %s\n", day.Format(exchangelog.DateLayout))
	return nil
}
