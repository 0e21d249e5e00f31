package models

import (
	"sync"
	"time"
)

// JobState represents the lifecycle state of a launched job
type JobState string

const (
	JobStateCreated  JobState = "created"
	JobStateRunning  JobState = "running"
	JobStateFinished JobState = "finished"
)

// Classification labels the outcome of a finished job
type Classification string

const (
	ClassSuccess       Classification = "success"
	ClassFailed        Classification = "failed"
	ClassIndeterminate Classification = "indeterminate"
	ClassLogMissing    Classification = "log_missing"
)

// JobDescriptor is the static definition of one prediction task.
// Immutable once created; the GPU slot assignment never changes over
// the job's lifetime.
type JobDescriptor struct {
	ID        string   `json:"id"`
	GPUSlot   int      `json:"gpu_slot"`
	Command   []string `json:"command"`
	OutputDir string   `json:"output_dir"`
	LogPath   string   `json:"log_path"`
}

// JobHandle tracks one launched job from spawn to exit. It is owned by
// the launcher until the job is terminal, then read-only.
type JobHandle struct {
	Descriptor JobDescriptor

	mu         sync.Mutex
	state      JobState
	pid        int
	startTime  time.Time
	endTime    *time.Time
	exitStatus *int
	launchErr  error

	// closed after exitStatus is populated, never before
	done chan struct{}
}

// NewJobHandle creates a handle in the created state.
func NewJobHandle(desc JobDescriptor) *JobHandle {
	return &JobHandle{
		Descriptor: desc,
		state:      JobStateCreated,
		done:       make(chan struct{}),
	}
}

// MarkRunning records the spawn. Valid only from the created state.
func (h *JobHandle) MarkRunning(pid int, start time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = JobStateRunning
	h.pid = pid
	h.startTime = start
}

// MarkFinished records the terminal state. The exit status is stored
// before the done channel closes so observers never see a finished job
// without one.
func (h *JobHandle) MarkFinished(exitStatus int, end time.Time) {
	h.mu.Lock()
	h.state = JobStateFinished
	h.exitStatus = &exitStatus
	h.endTime = &end
	h.mu.Unlock()
	close(h.done)
}

// MarkLaunchFailed records a job whose process never started. The handle
// goes straight to finished so callers never observe a false running state.
func (h *JobHandle) MarkLaunchFailed(err error, at time.Time) {
	h.mu.Lock()
	h.state = JobStateFinished
	h.launchErr = err
	status := -1
	h.exitStatus = &status
	h.startTime = at
	h.endTime = &at
	h.mu.Unlock()
	close(h.done)
}

// Done returns a channel closed when the job reaches the finished state.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the job has reached the terminal state.
func (h *JobHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (h *JobHandle) State() JobState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PID returns the process ID, or 0 if the process never started.
func (h *JobHandle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// ExitStatus returns the recorded exit status. The boolean is false
// until the job is finished.
func (h *JobHandle) ExitStatus() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitStatus == nil {
		return 0, false
	}
	return *h.exitStatus, true
}

// LaunchErr returns the launch error, if the process could not be started.
func (h *JobHandle) LaunchErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.launchErr
}

// StartTime returns when the process was spawned.
func (h *JobHandle) StartTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startTime
}

// Duration returns the job's wall time. For a still-running job it is
// the time elapsed so far.
func (h *JobHandle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startTime.IsZero() {
		return 0
	}
	if h.endTime != nil {
		return h.endTime.Sub(h.startTime)
	}
	return time.Since(h.startTime)
}

// JobOutcome is the derived, immutable classification of one finished job.
// Exactly one outcome exists per descriptor.
type JobOutcome struct {
	DescriptorID   string         `json:"descriptor_id"`
	GPUSlot        int            `json:"gpu_slot"`
	Classification Classification `json:"classification"`
	Duration       time.Duration  `json:"duration"`
	ArtifactCount  int            `json:"artifact_count"`
	ExitStatus     int            `json:"exit_status"`
	LogPath        string         `json:"log_path"`
}
