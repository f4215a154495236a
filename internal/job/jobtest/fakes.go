// Package jobtest provides in-memory SandboxRunner and ObjectStore fakes.
package jobtest

import (
	"context"
	"maps"
	"slices"
	"sync"

	"runproxy/internal/apperrors"
	"runproxy/internal/job"
)

var (
	_ job.ObjectStore   = (*Store)(nil)
	_ job.SandboxRunner = (*Runner)(nil)
)

// Store is an in-memory job.ObjectStore.
type Store struct {
	mu      sync.Mutex
	objects map[string]map[string][]byte

	// Errors injected per operation ("put", "get", "delete", "list").
	Errs map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		objects: make(map[string]map[string][]byte),
		Errs:    make(map[string]error),
	}
}

// FailOn makes every call to op return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Errs, op)
		return
	}
	s.Errs[op] = err
}

func (s *Store) Put(_ context.Context, namespace, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["put"]; err != nil {
		return err
	}
	ns, ok := s.objects[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.objects[namespace] = ns
	}
	ns[key] = slices.Clone(data)
	return nil
}

func (s *Store) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["get"]; err != nil {
		return nil, err
	}
	data, ok := s.objects[namespace][key]
	if !ok {
		return nil, apperrors.NotFound("artifact", namespace+"/"+key)
	}
	return slices.Clone(data), nil
}

func (s *Store) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["delete"]; err != nil {
		return err
	}
	if _, ok := s.objects[namespace][key]; !ok {
		return apperrors.NotFound("artifact", namespace+"/"+key)
	}
	delete(s.objects[namespace], key)
	return nil
}

func (s *Store) List(_ context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Errs["list"]; err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(s.objects[namespace])), nil
}

// Has reports whether key exists.
func (s *Store) Has(namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[namespace][key]
	return ok
}

// Len returns the number of keys across all namespaces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ns := range s.objects {
		n += len(ns)
	}
	return n
}

// Runner is an in-memory job.SandboxRunner. Sandboxes never progress on their
// own; tests move them with SetStatus or Finish.
type Runner struct {
	mu        sync.Mutex
	sandboxes map[string]*job.SandboxStatus
	specs     map[string]*job.SandboxSpec
	deleted   []string

	// Errors injected per operation ("create", "get", "delete", "list").
	Errs map[string]error
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		sandboxes: make(map[string]*job.SandboxStatus),
		specs:     make(map[string]*job.SandboxSpec),
		Errs:      make(map[string]error),
	}
}

// FailOn makes every call to op return err. A nil err clears the failure.
func (r *Runner) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.Errs, op)
		return
	}
	r.Errs[op] = err
}

func (r *Runner) CreateOrUpdate(_ context.Context, name string, spec *job.SandboxSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Errs["create"]; err != nil {
		return err
	}
	r.sandboxes[name] = &job.SandboxStatus{Name: name, Phase: job.PhaseNotStarted}
	r.specs[name] = spec
	return nil
}

func (r *Runner) Get(_ context.Context, name string) (*job.SandboxStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Errs["get"]; err != nil {
		return nil, err
	}
	status, ok := r.sandboxes[name]
	if !ok {
		return nil, apperrors.NotFound("sandbox", name)
	}
	copied := *status
	return &copied, nil
}

func (r *Runner) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Errs["delete"]; err != nil {
		return err
	}
	delete(r.sandboxes, name)
	r.deleted = append(r.deleted, name)
	return nil
}

// List returns the names of all sandboxes.
func (r *Runner) List(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Errs["list"]; err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(r.sandboxes)), nil
}

// SetStatus replaces the status of a sandbox, creating it if needed.
func (r *Runner) SetStatus(name string, phase job.Phase, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandboxes[name] = &job.SandboxStatus{Name: name, Phase: phase, Outcome: outcome}
}

// Spec returns the spec a sandbox was created with.
func (r *Runner) Spec(name string) *job.SandboxSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specs[name]
}

// Exists reports whether a sandbox is present.
func (r *Runner) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sandboxes[name]
	return ok
}

// Created returns the number of sandboxes ever created.
func (r *Runner) Created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

// Deleted returns the names passed to Delete, in order.
func (r *Runner) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.deleted)
}

// Finish simulates a sandbox run for jobID: it consumes the input artifact,
// writes output to the results namespace and terminates the sandbox as
// completed.
func Finish(ctx context.Context, r *Runner, s *Store, jobID string, output []byte) error {
	key := job.ArtifactKey(jobID)
	if err := s.Delete(ctx, job.NamespacePending, key); err != nil {
		return err
	}
	if err := s.Put(ctx, job.NamespaceResults, key, output); err != nil {
		return err
	}
	r.SetStatus(job.SandboxName(jobID), job.PhaseTerminated, job.OutcomeCompleted)
	return nil
}
