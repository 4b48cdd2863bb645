package fallback

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger checks that the primary service answers at all.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Active service and overall status values reported by StatusReporter.
const (
	ServiceMain  = "main_llm"
	ServiceLocal = "local_llm"
	ServiceDemo  = "demo"

	StatusEnhanced      = "enhanced"
	StatusLocalEnhanced = "local_enhanced"
	StatusDemo          = "demo"
)

// ServiceStatus describes which tier would answer right now.
type ServiceStatus struct {
	MainLLMAvailable  bool   `json:"main_llm_available"`
	LocalLLMAvailable bool   `json:"local_llm_available"`
	EnhancedMode      bool   `json:"enhanced_mode_enabled"`
	ActiveService     string `json:"active_service"`
	ServiceStatus     string `json:"service_status"`
	Recommendation    string `json:"recommendation"`
}

// StatusReporter answers the health and status endpoints.
type StatusReporter struct {
	primary      Pinger
	availability Availability
	mode         *Mode
	pingTimeout  time.Duration
}

// StatusReporterOpts holds parameters for creating a StatusReporter. Primary
// and Availability may be nil when that tier is not configured.
type StatusReporterOpts struct {
	Primary      Pinger
	Availability Availability
	Mode         *Mode
	PingTimeout  time.Duration // defaults to 5s
}

// NewStatusReporter creates a StatusReporter.
func NewStatusReporter(opts StatusReporterOpts) *StatusReporter {
	r := &StatusReporter{
		primary:      opts.Primary,
		availability: opts.Availability,
		mode:         opts.Mode,
		pingTimeout:  opts.PingTimeout,
	}
	if r.mode == nil {
		r.mode = NewMode(false)
	}
	if r.pingTimeout <= 0 {
		r.pingTimeout = 5 * time.Second
	}
	return r
}

// Status checks both backends concurrently and picks the active tier.
func (r *StatusReporter) Status(ctx context.Context) ServiceStatus {
	var s ServiceStatus
	s.EnhancedMode = r.mode.Enhanced()

	var g errgroup.Group
	if r.primary != nil {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, r.pingTimeout)
			defer cancel()
			s.MainLLMAvailable = r.primary.Ping(pctx) == nil
			return nil
		})
	}
	if r.availability != nil {
		g.Go(func() error {
			s.LocalLLMAvailable = r.availability.IsAvailable(ctx)
			return nil
		})
	}
	g.Wait()

	switch {
	case s.EnhancedMode && s.MainLLMAvailable:
		s.ActiveService, s.ServiceStatus = ServiceMain, StatusEnhanced
		s.Recommendation = "Main LLM service available for enhanced responses"
	case s.LocalLLMAvailable:
		s.ActiveService, s.ServiceStatus = ServiceLocal, StatusLocalEnhanced
		s.Recommendation = "Local LLM available for enhanced responses"
	default:
		s.ActiveService, s.ServiceStatus = ServiceDemo, StatusDemo
		s.Recommendation = "No LLM service reachable; answering from demo responses. Start Ollama or the main LLM service for better answers"
	}
	return s
}

// AnyLLM reports whether either model backend is reachable.
func (s ServiceStatus) AnyLLM() bool {
	return s.MainLLMAvailable || s.LocalLLMAvailable
}
