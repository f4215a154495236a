// Package maintenance reclaims sandboxes whose results have been collected but
// whose deletion never completed.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"runproxy/internal/apperrors"
	"runproxy/internal/job"
	"runproxy/internal/observability"
)

// Runner is a job.SandboxRunner that can enumerate its sandboxes.
type Runner interface {
	job.SandboxRunner
	List(ctx context.Context) ([]string, error)
}

// Sweeper deletes completed sandboxes that have nothing left to deliver.
//
// A sandbox is reclaimed only when it terminated Completed and both its input
// and output artifacts are gone. Failed sandboxes are kept for inspection and
// completed sandboxes with an uncollected output are left for their poller.
type Sweeper struct {
	runner  Runner
	store   job.ObjectStore
	metrics *observability.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
}

// NewSweeper creates a new sweeper.
func NewSweeper(runner Runner, store job.ObjectStore, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		runner:  runner,
		store:   store,
		metrics: metrics,
	}
}

// Sweep runs one pass and returns the number of sandboxes deleted.
// Errors on individual sandboxes are joined and the pass continues.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	logger := slog.With("component", "maintenance")

	names, err := s.runner.List(ctx)
	if err != nil {
		return 0, apperrors.Dependency("sandbox.list", err)
	}

	var errs []error
	var candidates []string
	for _, name := range names {
		if !strings.HasPrefix(name, job.SandboxPrefix) {
			continue
		}
		status, err := s.runner.Get(ctx, name)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if status.Succeeded() {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return 0, joinErrs(errs)
	}

	// Listed after the statuses so every candidate's output is already written.
	pending, err := s.keySet(ctx, job.NamespacePending)
	if err != nil {
		return 0, err
	}
	results, err := s.keySet(ctx, job.NamespaceResults)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range candidates {
		jobID := strings.TrimPrefix(name, job.SandboxPrefix)
		key := job.ArtifactKey(jobID)
		if pending[key] || results[key] {
			continue
		}

		if err := s.runner.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		logger.Info("Reclaimed collected sandbox", "sandbox", name, "jobId", jobID)
		removed++
	}

	return removed, joinErrs(errs)
}

func joinErrs(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return apperrors.Dependency("sweep", err)
	}
	return nil
}

func (s *Sweeper) keySet(ctx context.Context, namespace string) (map[string]bool, error) {
	keys, err := s.store.List(ctx, namespace)
	if err != nil {
		return nil, apperrors.Dependency("store.list", err)
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}

// Start schedules Sweep on a cron expression. Runs never overlap.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	slog.Info("Sandbox sweep scheduled", "schedule", schedule)
	return nil
}

// Stop cancels the schedule and waits for a run in progress.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	if !s.running.TryLock() {
		slog.Warn("Previous sweep still running, skipping", "component", "maintenance")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	removed, err := s.Sweep(ctx)
	if s.metrics != nil {
		s.metrics.RecordSweep(ctx, removed, err == nil)
	}
	if err != nil {
		slog.Error("Sweep finished with errors", "component", "maintenance", "removed", removed, "error", err)
		return
	}
	slog.Info("Sweep complete", "component", "maintenance", "removed", removed, "duration", time.Since(start))
}
