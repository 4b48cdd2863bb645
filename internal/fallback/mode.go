package fallback

import "sync/atomic"

// Mode is the runtime enhanced/demo switch. In demo mode the primary
// service is skipped; the local model is still tried.
type Mode struct {
	enhanced atomic.Bool
}

// NewMode creates a Mode with the given initial setting.
func NewMode(enhanced bool) *Mode {
	m := &Mode{}
	m.enhanced.Store(enhanced)
	return m
}

// Enhanced reports whether the primary service should be tried.
func (m *Mode) Enhanced() bool { return m.enhanced.Load() }

// SetEnhanced switches modes.
func (m *Mode) SetEnhanced(v bool) { m.enhanced.Store(v) }

// Name returns "enhanced" or "demo".
func (m *Mode) Name() string {
	if m.Enhanced() {
		return "enhanced"
	}
	return "demo"
}
