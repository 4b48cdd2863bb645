package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/channel"
	"github.com/mspsdc/helpdesk/internal/config"
	"github.com/mspsdc/helpdesk/internal/logging"
	"github.com/mspsdc/helpdesk/internal/report"
	"github.com/mspsdc/helpdesk/internal/web"
	"github.com/mspsdc/helpdesk/internal/whatsapp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chatbot",
		Long: "Starts the web UI and API, the WhatsApp webhook, any enabled Slack or Discord\n" +
			"bridges, and the daily usage report. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logCloser, err := logging.Configure(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := newWebServer(ctx, a)
	if err != nil {
		return err
	}

	adapters, err := createAdapters(cfg)
	if err != nil {
		return err
	}

	scheduler, err := newReportScheduler(a)
	if err != nil {
		return err
	}

	log.Info("helpdesk starting",
		"version", Version,
		"mode", a.backends.mode.Name(),
		"local", cfg.Local.Enabled,
		"sessions", cfg.Sessions.Store,
		"whatsapp", cfg.WhatsApp.Enabled,
		"bridges", len(adapters),
		"report", scheduler != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, web.StartOpts{Port: cfg.Server.Port, Out: cmd.OutOrStdout()})
	})
	for _, adapter := range adapters {
		bridge, err := channel.NewBridge(channel.BridgeOpts{
			Adapter:    adapter,
			Dispatcher: a.svc,
			Resetter:   a.svc,
			Status:     a.backends.status,
		})
		if err != nil {
			cancel()
			g.Wait()
			return err
		}
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	err = g.Wait()
	a.svc.Wait()
	return err
}

// newWebServer builds the HTTP surface, mounting the WhatsApp webhook when
// that channel is enabled. Background answers run under ctx.
func newWebServer(ctx context.Context, a *app) (*web.Server, error) {
	cfg := a.cfg
	opts := web.ServerOpts{
		Chat:   a.svc,
		Status: a.backends.status,
		Mode:   a.backends.mode,
		Stats:  a.exchanges,
		Backends: web.Backends{
			PrimaryURL: cfg.Primary.URL,
			LocalURL:   cfg.Local.BaseURL,
			LocalModel: cfg.Local.Model,
		},
	}

	if cfg.WhatsApp.Enabled {
		client, err := whatsapp.NewClient(whatsapp.ClientOpts{
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIVersion:    cfg.WhatsApp.APIVersion,
			GraphURL:      cfg.WhatsApp.GraphURL,
		})
		if err != nil {
			return nil, err
		}
		handler, err := whatsapp.NewHandler(whatsapp.HandlerOpts{
			Dispatcher:    a.svc,
			Sender:        client,
			AppSecret:     cfg.WhatsApp.AppSecret,
			VerifyToken:   cfg.WhatsApp.VerifyToken,
			DisplayNumber: cfg.WhatsApp.DisplayNumber,
			BaseContext:   ctx,
		})
		if err != nil {
			return nil, err
		}
		opts.Webhook = handler
	}

	return web.NewServer(opts)
}

// newReportScheduler returns nil when the daily report is disabled.
func newReportScheduler(a *app) (*report.Scheduler, error) {
	if !a.cfg.Report.Enabled {
		return nil, nil
	}
	builder, sender, err := newReportPipeline(a.cfg.Report, a.exchanges)
	if err != nil {
		return nil, err
	}
	return report.NewScheduler(report.SchedulerOpts{
		Builder: builder,
		Sender:  sender,
		Cron:    a.cfg.Report.Cron,
	})
}

func newReportPipeline(rc config.ReportConfig, src report.Source) (*report.Builder, *report.Mailer, error) {
	builder, err := report.NewBuilder(report.BuilderOpts{
		Source:    src,
		OutputDir: rc.OutputDir,
	})
	if err != nil {
		return nil, nil, err
	}
	mailer, err := report.NewMailer(report.MailerOpts{
		Host:     rc.SMTPHost,
		Port:     rc.SMTPPort,
		Username: rc.Username,
		Password: rc.Password,
		From:     rc.From,
		To:       rc.To,
		Cc:       rc.Cc,
	})
	if err != nil {
		return nil, nil, err
	}
	return builder, mailer, nil
}
