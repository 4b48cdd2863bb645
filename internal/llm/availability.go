package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// ModelLister is the probe the availability cache runs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Defaults for AvailabilityCacheOpts.
const (
	DefaultFreshness    = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// AvailabilityCache remembers whether the local model was reachable, and
// only re-probes once the last answer is older than the freshness window.
// Concurrent callers that find the record stale share one probe.
type AvailabilityCache struct {
	lister       ModelLister
	model        string
	freshness    time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	checked   bool
	reachable bool
	checkedAt time.Time
}

// AvailabilityCacheOpts holds parameters for creating an AvailabilityCache.
type AvailabilityCacheOpts struct {
	Lister       ModelLister
	Model        string        // required model; liveness alone is not enough
	Freshness    time.Duration // defaults to DefaultFreshness
	ProbeTimeout time.Duration // defaults to DefaultProbeTimeout
	Now          func() time.Time
}

// NewAvailabilityCache creates an AvailabilityCache.
func NewAvailabilityCache(opts AvailabilityCacheOpts) (*AvailabilityCache, error) {
	if opts.Lister == nil {
		return nil, fmt.Errorf("llm: availability cache: lister is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: availability cache: model is required")
	}
	c := &AvailabilityCache{
		lister:       opts.Lister,
		model:        opts.Model,
		freshness:    opts.Freshness,
		probeTimeout: opts.ProbeTimeout,
		now:          opts.Now,
	}
	if c.freshness <= 0 {
		c.freshness = DefaultFreshness
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = DefaultProbeTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// cached returns the stored answer if it is still fresh.
func (c *AvailabilityCache) cached() (reachable, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checked || c.now().Sub(c.checkedAt) >= c.freshness {
		return false, false
	}
	return c.reachable, true
}

// IsAvailable reports whether the local model can take requests. It never
// fails: any probe error counts as unavailable.
func (c *AvailabilityCache) IsAvailable(ctx context.Context) bool {
	if v, ok := c.cached(); ok {
		return v
	}
	v, _, _ := c.group.Do("probe", func() (interface{}, error) {
		// A probe that finished while we waited for the group may have
		// refreshed the record already.
		if v, ok := c.cached(); ok {
			return v, nil
		}
		reachable := c.probe(ctx)
		c.mu.Lock()
		c.checked = true
		c.reachable = reachable
		c.checkedAt = c.now()
		c.mu.Unlock()
		return reachable, nil
	})
	return v.(bool)
}

func (c *AvailabilityCache) probe(ctx context.Context) (reachable bool) {
	// Shared by every waiter, so one caller's cancellation must not fail
	// the probe for the rest.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.probeTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("llm: availability probe panicked", "panic", r)
			metrics.AvailabilityProbes.WithLabelValues("error").Inc()
			reachable = false
		}
	}()

	names, err := c.lister.ListModels(ctx)
	switch {
	case err != nil:
		log.Debug("llm: local model unreachable", "err", err)
		metrics.AvailabilityProbes.WithLabelValues("error").Inc()
		return false
	case !HasModel(names, c.model):
		log.Warn("llm: local model not pulled", "model", c.model, "available", names)
		metrics.AvailabilityProbes.WithLabelValues("missing_model").Inc()
		return false
	default:
		metrics.AvailabilityProbes.WithLabelValues("up").Inc()
		return true
	}
}

// Invalidate forgets the cached answer so the next call probes.
func (c *AvailabilityCache) Invalidate() {
	c.mu.Lock()
	c.checked = false
	c.mu.Unlock()
}

// Snapshot returns the last recorded answer without probing.
func (c *AvailabilityCache) Snapshot() (reachable bool, checkedAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable, c.checkedAt, c.checked
}
