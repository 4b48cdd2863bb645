package fallback

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestStatus(t *testing.T) {
	down := errors.New("refused")
	tests := []struct {
		name       string
		enhanced   bool
		mainErr    error
		localUp    bool
		wantActive string
		wantStatus string
		wantAnyLLM bool
	}{
		{"all up, enhanced", true, nil, true, ServiceMain, StatusEnhanced, true},
		{"all up, demo mode", false, nil, true, ServiceLocal, StatusLocalEnhanced, true},
		{"only local", true, down, true, ServiceLocal, StatusLocalEnhanced, true},
		{"only main, demo mode", false, nil, false, ServiceDemo, StatusDemo, true},
		{"nothing", true, down, false, ServiceDemo, StatusDemo, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStatusReporter(StatusReporterOpts{
				Primary:      fakePinger{err: tt.mainErr},
				Availability: fakeAvailability(tt.localUp),
				Mode:         NewMode(tt.enhanced),
			})
			s := r.Status(context.Background())
			if s.ActiveService != tt.wantActive || s.ServiceStatus != tt.wantStatus {
				t.Errorf("Status() = %s/%s, want %s/%s", s.ActiveService, s.ServiceStatus, tt.wantActive, tt.wantStatus)
			}
			if s.MainLLMAvailable != (tt.mainErr == nil) || s.LocalLLMAvailable != tt.localUp {
				t.Errorf("availability = main %v local %v", s.MainLLMAvailable, s.LocalLLMAvailable)
			}
			if s.AnyLLM() != tt.wantAnyLLM {
				t.Errorf("AnyLLM() = %v, want %v", s.AnyLLM(), tt.wantAnyLLM)
			}
			if s.Recommendation == "" {
				t.Error("Recommendation is empty")
			}
		})
	}
}

func TestStatus_Unconfigured(t *testing.T) {
	s := NewStatusReporter(StatusReporterOpts{}).Status(context.Background())
	if s.ActiveService != ServiceDemo || s.AnyLLM() {
		t.Errorf("Status() = %+v, want demo", s)
	}
}
