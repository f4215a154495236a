package job

import (
	"encoding/json"
	"time"
)

// Store namespaces and naming
const (
	NamespacePending = "data_in"
	NamespaceResults = "data_out"

	SandboxPrefix   = "px-"
	ArtifactSuffix  = ".json"
	collectLockName = "collect:"
)

// ArtifactKey returns the store key for a job's input and output artifacts.
func ArtifactKey(jobID string) string {
	return jobID + ArtifactSuffix
}

// SandboxName returns the sandbox name for a job.
func SandboxName(jobID string) string {
	return SandboxPrefix + jobID
}

// Record is one batch item. Values are kept raw and never interpreted.
type Record map[string]json.RawMessage

// Phase is the execution phase of a sandbox.
type Phase int

// Sandbox phases
const (
	PhaseNotStarted Phase = iota
	PhaseRunning
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not-started"
	case PhaseRunning:
		return "running"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal outcomes
const (
	OutcomeCompleted = "Completed"
	OutcomeFailed    = "Failed"
)

// SandboxStatus is a snapshot of a sandbox as reported by the runner.
type SandboxStatus struct {
	Name       string
	Phase      Phase
	Outcome    string // set once Phase is PhaseTerminated
	ExitCode   int
	FinishedAt time.Time
}

// Succeeded reports whether the sandbox terminated with a completed outcome.
func (s *SandboxStatus) Succeeded() bool {
	return s.Phase == PhaseTerminated && s.Outcome == OutcomeCompleted
}

// SandboxSpec describes the sandbox to start for a job.
type SandboxSpec struct {
	Image    string
	CPU      float64 // cores
	MemoryGB float64
	Command  []string
	Volume   VolumeSpec
	Platform string
}

// VolumeSpec mounts the object store root into the sandbox.
type VolumeSpec struct {
	Source    string
	MountPath string
	ReadOnly  bool
}

// DecisionKind is the lifecycle decision reached for one poll.
type DecisionKind int

// Decisions
const (
	DecisionPending DecisionKind = iota
	DecisionCompleted
	DecisionFailed
	DecisionAlreadyCollected
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionPending:
		return "Pending"
	case DecisionCompleted:
		return "Completed"
	case DecisionFailed:
		return "Failed"
	case DecisionAlreadyCollected:
		return "AlreadyCollected"
	default:
		return "Unknown"
	}
}

// Decision is the result of resolving a job. Output is set only for
// DecisionCompleted.
type Decision struct {
	Kind   DecisionKind
	Output []byte
}
