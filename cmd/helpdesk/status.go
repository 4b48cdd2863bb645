package main

import (
	"context"
	"fmt"
	"io"

	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/fallback"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which model backends are reachable",
		Long:  "Pings the main RAG service and probes the local Ollama model, then reports which tier would answer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b, err := newBackends(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	printStatus(cmd.OutOrStdout(), cfg, b.status.Status(ctx))
	return nil
}

func printStatus(out io.Writer, cfg *config.Config, s fallback.ServiceStatus) {
	fmt.Fprintf(out, "Main LLM:  %s (%s)\n", upDown(s.MainLLMAvailable), cfg.Primary.URL)
	if cfg.Local.Enabled {
		fmt.Fprintf(out, "Local LLM: %s (%s via %s)\n", upDown(s.LocalLLMAvailable), cfg.Local.Model, cfg.Local.BaseURL)
	} else {
		fmt.Fprintf(out, "Local LLM: DISABLED\n")
	}
	mode := "demo"
	if s.EnhancedMode {
		mode = "enhanced"
	}
	fmt.Fprintf(out, "Mode:      %s\n", mode)
	fmt.Fprintf(out, "Active:    %s (%s)\n", s.ActiveService, s.ServiceStatus)
	fmt.Fprintf(out, "%s\n", s.Recommendation)
}

func upDown(ok bool) string {
	if ok {
		return "UP"
	}
	return "DOWN"
}
