package job

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"runproxy/internal/apperrors"
	"runproxy/internal/config"
	"runproxy/internal/observability"
)

// Submitter stages a batch in the object store and starts the sandbox that
// processes it.
type Submitter struct {
	runner  SandboxRunner
	store   ObjectStore
	cfg     config.SandboxConfig
	metrics *observability.Metrics
	newID   func() string
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithIDFunc replaces the job id generator.
func WithIDFunc(fn func() string) SubmitterOption {
	return func(s *Submitter) {
		s.newID = fn
	}
}

// NewSubmitter creates a new submitter.
func NewSubmitter(runner SandboxRunner, store ObjectStore, cfg config.SandboxConfig, metrics *observability.Metrics, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		runner:  runner,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates batch, writes body verbatim as the job input and starts the
// job's sandbox. It returns the new job id.
//
// There is no rollback: if the sandbox cannot be created the input artifact
// stays in the store.
func (s *Submitter) Submit(ctx context.Context, body []byte, batch []Record) (string, error) {
	if err := ValidateBatch(batch); err != nil {
		s.record(ctx, "rejected")
		return "", err
	}

	jobID := s.newID()
	logger := slog.With("jobId", jobID, "records", len(batch))

	if err := s.store.Put(ctx, NamespacePending, ArtifactKey(jobID), body); err != nil {
		logger.Error("Failed to stage batch", "error", err)
		s.record(ctx, "error")
		return "", apperrors.Dependency("store.put", err)
	}

	if err := s.runner.CreateOrUpdate(ctx, SandboxName(jobID), s.spec(jobID)); err != nil {
		logger.Error("Failed to start sandbox, input left staged", "error", err)
		s.record(ctx, "error")
		return "", apperrors.Dependency("sandbox.create", err)
	}

	s.record(ctx, "accepted")
	logger.Info("Job submitted", "sandbox", SandboxName(jobID))
	return jobID, nil
}

// spec builds the sandbox for a job. The command only learns the input file
// name; the sandbox finds its input and writes its output through the mount.
func (s *Submitter) spec(jobID string) *SandboxSpec {
	return &SandboxSpec{
		Image:    s.cfg.ImageRef(),
		CPU:      s.cfg.CPU,
		MemoryGB: s.cfg.MemoryGB,
		Command:  append(slices.Clone(s.cfg.Command), ArtifactKey(jobID)),
		Volume: VolumeSpec{
			Source:    s.cfg.ShareRoot,
			MountPath: s.cfg.MountPath,
		},
		Platform: s.cfg.Platform,
	}
}

func (s *Submitter) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, s.cfg.ImageRef(), outcome)
	}
}
