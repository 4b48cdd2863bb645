// Package web serves the browser chat UI, the JSON API behind it, the
// WhatsApp webhook and the Prometheus endpoint.
package web

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/conversation"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/fallback"
)

// Channel is the conversation channel name used for browser sessions.
const Channel = "web"

// Chatter answers web chat messages and manages their history.
type Chatter interface {
	HandleSync(ctx context.Context, in assistant.Inbound) (assistant.Reply, error)
	History(ctx context.Context, channel, userID string) ([]conversation.Turn, error)
	Reset(ctx context.Context, channel, userID string) error
}

// StatusReporter reports which backends would answer right now.
type StatusReporter interface {
	Status(ctx context.Context) fallback.ServiceStatus
}

// StatsSource summarises the exchange log.
type StatsSource interface {
	Stats(ctx context.Context) (exchangelog.Stats, error)
}

// Registrar mounts extra routes, such as the WhatsApp webhook.
type Registrar interface {
	Register(r gin.IRoutes)
}

// Backends describes the configured model endpoints for the status and
// setup pages.
type Backends struct {
	PrimaryURL string
	LocalURL   string
	LocalModel string
}

// ServerOpts holds parameters for creating a Server.
type ServerOpts struct {
	Chat     Chatter
	Status   StatusReporter
	Mode     *fallback.Mode
	Stats    StatsSource // optional
	Webhook  Registrar   // optional
	Backends Backends

	SecureCookie bool // set the Secure flag on the session cookie
	Now          func() time.Time
}

// Server is the HTTP front end.
type Server struct {
	chat         Chatter
	status       StatusReporter
	mode         *fallback.Mode
	stats        StatsSource
	backends     Backends
	secureCookie bool
	now          func() time.Time
	engine       *gin.Engine
}

// NewServer builds the gin engine and registers every route.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Chat == nil {
		return nil, fmt.Errorf("web: chat is required")
	}
	if opts.Status == nil {
		return nil, fmt.Errorf("web: status is required")
	}
	if opts.Mode == nil {
		return nil, fmt.Errorf("web: mode is required")
	}

	s := &Server{
		chat:         opts.Chat,
		status:       opts.Status,
		mode:         opts.Mode,
		stats:        opts.Stats,
		backends:     opts.Backends,
		secureCookie: opts.SecureCookie,
		now:          opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	s.registerRoutes(router)
	if opts.Webhook != nil {
		opts.Webhook.Register(router)
	}
	s.engine = router
	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// StartOpts holds configuration for the HTTP listener.
type StartOpts struct {
	Port int
	Out  io.Writer
}

// Start listens on the configured port. It blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8000
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("web: shutdown", "err", err)
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Helpdesk running at http://localhost:%d\n", opts.Port)
	}
	log.Info("web: listening", "port", opts.Port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
