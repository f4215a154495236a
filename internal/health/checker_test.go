package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type fakeChecker struct {
	err   error
	calls atomic.Int32
}

func (f *fakeChecker) Ready(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker()

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness_NoDependencies(t *testing.T) {
	t.Parallel()
	checker := NewChecker()

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	down := errors.New("daemon unreachable")

	tests := []struct {
		name       string
		deps       []Dependency
		wantStatus Status
		wantReady  bool
	}{
		{
			name: "all healthy",
			deps: []Dependency{
				{Name: "sandbox", Checker: &fakeChecker{}},
				{Name: "store", Checker: &fakeChecker{}},
			},
			wantStatus: StatusHealthy,
			wantReady:  true,
		},
		{
			name: "required failing",
			deps: []Dependency{
				{Name: "sandbox", Checker: &fakeChecker{err: down}},
				{Name: "store", Checker: &fakeChecker{}},
			},
			wantStatus: StatusUnhealthy,
		},
		{
			name: "optional failing",
			deps: []Dependency{
				{Name: "sandbox", Checker: &fakeChecker{}},
				{Name: "lock", Checker: &fakeChecker{err: down}, Optional: true},
			},
			wantStatus: StatusDegraded,
			wantReady:  true,
		},
		{
			name: "nil checker",
			deps: []Dependency{
				{Name: "sandbox", Checker: nil},
			},
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := NewChecker(tt.deps...).Readiness(context.Background())

			if response.Status != tt.wantStatus {
				t.Errorf("Expected %s, got %s", tt.wantStatus, response.Status)
			}
			if response.IsReady() != tt.wantReady {
				t.Errorf("IsReady() = %v, want %v", response.IsReady(), tt.wantReady)
			}
			if len(response.Checks) != len(tt.deps) {
				t.Errorf("Expected %d checks, got %d", len(tt.deps), len(response.Checks))
			}
		})
	}
}

func TestChecker_Readiness_Cached(t *testing.T) {
	t.Parallel()
	dep := &fakeChecker{}
	checker := NewChecker(Dependency{Name: "sandbox", Checker: dep})

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())

	if got := dep.calls.Load(); got != 1 {
		t.Errorf("Expected cached result within a second, got %d calls", got)
	}
}

func TestChecker_SetShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker(Dependency{Name: "sandbox", Checker: &fakeChecker{}})

	if !checker.Readiness(context.Background()).IsHealthy() {
		t.Fatal("Expected healthy before shutdown")
	}

	checker.SetShuttingDown()
	response := checker.Readiness(context.Background())
	if response.IsReady() {
		t.Error("Expected not ready while shutting down")
	}
	if _, ok := response.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check to be present")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
		{"degraded", StatusDegraded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}
