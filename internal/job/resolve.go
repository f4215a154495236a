package job

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"runproxy/internal/apperrors"
	"runproxy/internal/observability"
)

// Resolver infers a job's lifecycle state from its sandbox and artifacts and
// collects the result once the sandbox has completed.
//
// Each call is a single pass over one snapshot of external state. Nothing is
// retried and no state is kept between polls.
type Resolver struct {
	runner  SandboxRunner
	store   ObjectStore
	locker  Locker
	metrics *observability.Metrics
}

// NewResolver creates a new resolver.
func NewResolver(runner SandboxRunner, store ObjectStore, locker Locker, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		runner:  runner,
		store:   store,
		locker:  locker,
		metrics: metrics,
	}
}

// Resolve returns the decision for jobID.
//
// Precedence:
//  1. No sandbox: Pending while the input is still staged, else AlreadyCollected.
//  2. Sandbox not terminated: Pending.
//  3. Terminated with any outcome but Completed: Failed. Nothing is cleaned up.
//  4. Completed: delete the sandbox without waiting, then download and delete
//     the output and return it.
//
// Collection runs under a per-job lock so the output is delivered at most once.
// Unexpected collaborator failures are returned as dependency errors.
func (r *Resolver) Resolve(ctx context.Context, jobID string) (*Decision, error) {
	decision, err := r.resolve(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RecordResolution(ctx, decision.Kind.String())
		if decision.Kind == DecisionCompleted {
			r.metrics.RecordResultCollected(ctx, len(decision.Output))
		}
	}
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, jobID string) (*Decision, error) {
	name := SandboxName(jobID)

	status, err := r.runner.Get(ctx, name)
	if apperrors.IsNotFound(err) {
		staged, err := InputStaged(ctx, r.store, jobID)
		if err != nil {
			return nil, err
		}
		if staged {
			// Submitted but not yet scheduled.
			return &Decision{Kind: DecisionPending}, nil
		}
		return &Decision{Kind: DecisionAlreadyCollected}, nil
	}
	if err != nil {
		return nil, apperrors.Dependency("sandbox.get", err)
	}

	if status.Phase != PhaseTerminated {
		return &Decision{Kind: DecisionPending}, nil
	}
	if status.Outcome != OutcomeCompleted {
		slog.Warn("Sandbox failed, leaving it for inspection",
			"jobId", jobID, "sandbox", name, "outcome", status.Outcome, "exitCode", status.ExitCode)
		return &Decision{Kind: DecisionFailed}, nil
	}

	return r.collect(ctx, jobID)
}

func (r *Resolver) collect(ctx context.Context, jobID string) (*Decision, error) {
	logger := slog.With("jobId", jobID)

	release, ok, err := r.locker.TryLock(ctx, collectLockName+jobID)
	if err != nil {
		return nil, apperrors.Dependency("lock.acquire", err)
	}
	if !ok {
		logger.Info("Result is being collected by another request")
		return &Decision{Kind: DecisionAlreadyCollected}, nil
	}
	defer release()

	name := SandboxName(jobID)
	if err := r.runner.Delete(ctx, name); err != nil {
		logger.Error("Failed to start sandbox deletion", "sandbox", name, "error", err)
		if r.metrics != nil {
			r.metrics.RecordSandboxDeleteFailure(ctx)
		}
	}

	key := ArtifactKey(jobID)
	output, err := r.store.Get(ctx, NamespaceResults, key)
	if apperrors.IsNotFound(err) {
		// Either an earlier poll collected it, or the sandbox exited cleanly
		// without writing one.
		logger.Warn("Completed sandbox has no output to collect", "sandbox", name, "key", NamespaceResults+"/"+key)
		return &Decision{Kind: DecisionAlreadyCollected}, nil
	}
	if err != nil {
		return nil, apperrors.Dependency("store.get", err)
	}

	err = r.store.Delete(ctx, NamespaceResults, key)
	if apperrors.IsNotFound(err) {
		// Another collector removed it first and owns the delivery.
		return &Decision{Kind: DecisionAlreadyCollected}, nil
	}
	if err != nil {
		return nil, apperrors.Dependency("store.delete", err)
	}

	logger.Info("Result collected", "bytes", len(output))
	return &Decision{Kind: DecisionCompleted, Output: output}, nil
}

// InputStaged reports whether the job's input artifact is still in the
// pending namespace.
func InputStaged(ctx context.Context, store ObjectStore, jobID string) (bool, error) {
	return artifactListed(ctx, store, NamespacePending, jobID)
}

// OutputStaged reports whether the job's output artifact is in the results namespace.
func OutputStaged(ctx context.Context, store ObjectStore, jobID string) (bool, error) {
	return artifactListed(ctx, store, NamespaceResults, jobID)
}

func artifactListed(ctx context.Context, store ObjectStore, namespace, jobID string) (bool, error) {
	keys, err := store.List(ctx, namespace)
	if err != nil {
		return false, apperrors.Dependency("store.list", err)
	}
	return slices.ContainsFunc(keys, func(key string) bool {
		id, ok := strings.CutSuffix(key, ArtifactSuffix)
		return ok && id == jobID
	}), nil
}
