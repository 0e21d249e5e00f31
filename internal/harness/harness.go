package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foldops/gpufan/internal/classify"
	"github.com/foldops/gpufan/internal/launch"
	"github.com/foldops/gpufan/internal/logging"
	"github.com/foldops/gpufan/internal/monitor"
	"github.com/foldops/gpufan/internal/report"
	"github.com/foldops/gpufan/internal/status"
	"github.com/foldops/gpufan/internal/telemetry"
	"github.com/foldops/gpufan/pkg/models"
)

// Config carries the tunables of one fan-out run.
type Config struct {
	// Predictor is the external binary invoked as
	// `<predictor> predict <input> [flags...] --out_dir <dir>`.
	Predictor string

	// GPUSlots are the device identifiers available to this run.
	GPUSlots []int

	// OutputRoot is where the timestamped run directory is created.
	OutputRoot string

	// PollInterval is the liveness monitor period.
	PollInterval time.Duration

	// TelemetryInterval is the sampler period, configured independently
	// of the poll interval.
	TelemetryInterval time.Duration

	// FailureTokens override the default log-scan token list.
	FailureTokens []string

	// StatusAddr enables the live status HTTP server when non-empty.
	StatusAddr string

	// Timeout terminates still-running jobs after the given duration and
	// marks them indeterminate. Zero disables the timeout.
	Timeout time.Duration

	// LogLevel and JSONLogs configure the harness's own run log.
	LogLevel string
	JSONLogs bool
}

// JobSpec is one requested prediction before descriptor construction.
type JobSpec struct {
	Input string
	Args  []string
	// GPUSlot pins the job to a device; nil means round-robin assignment.
	GPUSlot *int
}

// RunResult aggregates everything a completed run produced.
type RunResult struct {
	RunDir    string
	Outcomes  []models.JobOutcome
	Telemetry []models.TelemetrySample
	WallClock time.Duration
	Summary   report.Summary
}

// AllSucceeded reports whether every job classified as success.
func (r *RunResult) AllSucceeded() bool {
	return r.Summary.Successes == r.Summary.Total
}

// Harness fans prediction jobs out across GPU slots, monitors them to
// completion, and produces the run report. Per-job failures never abort
// the run; every job is classified and reported regardless.
type Harness struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a harness. The logger is required.
func New(cfg Config, logger *logging.Logger) *Harness {
	return &Harness{cfg: cfg, logger: logger}
}

// BuildDescriptors validates the job list against the slot pool and
// constructs immutable descriptors. Slot exclusivity is guaranteed here,
// at input validation time: jobs may not outnumber slots and pinned
// slots may not collide, so no runtime mutual exclusion is needed.
func (h *Harness) BuildDescriptors(specs []JobSpec, runDir string) ([]models.JobDescriptor, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no jobs to run")
	}
	if len(h.cfg.GPUSlots) == 0 {
		return nil, fmt.Errorf("no GPU slots configured")
	}
	if len(specs) > len(h.cfg.GPUSlots) {
		return nil, fmt.Errorf("%d jobs requested but only %d GPU slots available; one slot hosts one job at a time",
			len(specs), len(h.cfg.GPUSlots))
	}

	taken := make(map[int]string)
	free := make([]int, 0, len(h.cfg.GPUSlots))
	for _, slot := range h.cfg.GPUSlots {
		free = append(free, slot)
	}

	// Pinned jobs claim their slots first.
	for _, spec := range specs {
		if spec.GPUSlot == nil {
			continue
		}
		slot := *spec.GPUSlot
		if owner, clash := taken[slot]; clash {
			return nil, fmt.Errorf("GPU slot %d requested by both %s and %s", slot, owner, spec.Input)
		}
		if !containsSlot(h.cfg.GPUSlots, slot) {
			return nil, fmt.Errorf("GPU slot %d for %s is not in the configured pool", slot, spec.Input)
		}
		taken[slot] = spec.Input
	}

	descriptors := make([]models.JobDescriptor, 0, len(specs))
	for _, spec := range specs {
		var slot int
		if spec.GPUSlot != nil {
			slot = *spec.GPUSlot
		} else {
			assigned := false
			for _, candidate := range free {
				if _, used := taken[candidate]; !used {
					slot = candidate
					taken[candidate] = spec.Input
					assigned = true
					break
				}
			}
			if !assigned {
				return nil, fmt.Errorf("no free GPU slot for %s", spec.Input)
			}
		}

		id := jobID(spec.Input)
		outDir := filepath.Join(runDir, id)
		command := append([]string{h.cfg.Predictor, "predict", spec.Input}, spec.Args...)
		command = append(command, "--out_dir", outDir)

		descriptors = append(descriptors, models.JobDescriptor{
			ID:        id,
			GPUSlot:   slot,
			Command:   command,
			OutputDir: outDir,
			LogPath:   filepath.Join(runDir, id+".log"),
		})
	}

	return descriptors, nil
}

// Run executes the full fan-out: launch everything, monitor and sample
// concurrently, classify each finished job, and write the report. The
// only fatal conditions are an empty job list and an uncreatable run
// directory.
func (h *Harness) Run(ctx context.Context, specs []JobSpec) (*RunResult, error) {
	runDir := filepath.Join(h.cfg.OutputRoot, "run-"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", runDir, err)
	}

	descriptors, err := h.BuildDescriptors(specs, runDir)
	if err != nil {
		return nil, err
	}

	// The harness's own log is teed into the run directory alongside the
	// per-job logs. The run logger stays local to this run; the handle's
	// own logger is never replaced.
	logger := h.logger
	if runLogger, logErr := logging.NewRunLogger(runDir, logging.ParseLevel(h.cfg.LogLevel), h.cfg.JSONLogs); logErr != nil {
		logger.Warn("Falling back to stdout-only logging", map[string]interface{}{
			"error": logErr.Error(),
		})
	} else {
		defer runLogger.Close()
		logger = runLogger
	}

	logger.Info("Starting run", map[string]interface{}{
		"jobs":    len(descriptors),
		"gpus":    len(h.cfg.GPUSlots),
		"run_dir": runDir,
	})

	if err := writeJSON(runDir, JobsFile, descriptors); err != nil {
		logger.Warn("Failed to persist job descriptors", map[string]interface{}{"error": err.Error()})
	}

	// Fire-and-forget launch; a failed launch produces a finished handle,
	// never an abort.
	launcher := launch.New(logger)
	handles := make([]*models.JobHandle, 0, len(descriptors))
	for _, desc := range descriptors {
		handles = append(handles, launcher.Launch(desc))
	}
	wallStart := time.Now()

	var statusServer *status.Server
	if h.cfg.StatusAddr != "" {
		statusServer = status.NewServer(h.cfg.StatusAddr, handles)
		serverErr := make(chan error, 1)
		statusServer.Start(serverErr)
		// A bind failure is non-fatal for the run but must not be silent.
		go func() {
			for err := range serverErr {
				logger.Warn("Status server error", map[string]interface{}{
					"addr":  h.cfg.StatusAddr,
					"error": err.Error(),
				})
			}
		}()
		logger.Info("Status server listening", map[string]interface{}{"addr": h.cfg.StatusAddr})
	}

	// Telemetry runs on its own period, independent of job completion.
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	sampler := telemetry.NewSampler(telemetry.NewNvidiaSMIQuerier(), h.cfg.TelemetryInterval, logger)
	if statusServer != nil {
		sampler.OnSamples = statusServer.ObserveTelemetry
	}
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		if err := sampler.Run(samplerCtx, filepath.Join(runDir, TelemetryFile)); err != nil {
			logger.Warn("Telemetry sampler stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	runCtx := ctx
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	mon := monitor.New(h.cfg.PollInterval, logger)
	if statusServer != nil {
		mon.OnPoll = statusServer.SetCounts
	}
	running, _ := mon.Run(runCtx, handles)

	// Timeout or interrupt: terminate what is left and mark it
	// indeterminate rather than failed.
	timedOut := make(map[string]bool)
	if running > 0 {
		logger.Warn("Terminating jobs still running", map[string]interface{}{"count": running})
		for _, handle := range handles {
			if handle.Finished() {
				continue
			}
			timedOut[handle.Descriptor.ID] = true
			if err := launch.TerminateGroup(handle); err != nil {
				logger.Warn("Failed to terminate job", map[string]interface{}{
					"job_id": handle.Descriptor.ID,
					"error":  err.Error(),
				})
			}
		}
		waitForHandles(handles, 15*time.Second)
	}
	wallClock := time.Since(wallStart)

	// Cooperative stop: signal then join so the CSV is not truncated.
	stopSampler()
	<-samplerDone

	classifier := classify.New(classify.NewTokenScan(h.cfg.FailureTokens))
	outcomes := make([]models.JobOutcome, 0, len(handles))
	for _, handle := range handles {
		outcome := classifier.Classify(handle, handle.Descriptor.OutputDir)
		if timedOut[outcome.DescriptorID] {
			outcome.Classification = models.ClassIndeterminate
		}
		outcomes = append(outcomes, outcome)
	}

	result := &RunResult{
		RunDir:    runDir,
		Outcomes:  outcomes,
		Telemetry: sampler.Samples(),
		WallClock: wallClock,
		Summary:   report.Summarize(outcomes, wallClock),
	}

	if err := writeJSON(runDir, OutcomesFile, outcomes); err != nil {
		logger.Warn("Failed to persist outcomes", map[string]interface{}{"error": err.Error()})
	}

	reportPath := filepath.Join(runDir, ReportFile)
	if err := report.WriteFile(reportPath, outcomes, result.Telemetry, wallClock); err != nil {
		logger.Error("Failed to write report file", map[string]interface{}{"error": err.Error()})
	}
	report.Generate(os.Stdout, outcomes, result.Telemetry, wallClock)

	if statusServer != nil {
		if err := statusServer.WriteSnapshot(filepath.Join(runDir, "metrics.prom")); err != nil {
			logger.Warn("Failed to write metrics snapshot", map[string]interface{}{"error": err.Error()})
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status server shutdown error", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}

	logger.Info("Run complete", map[string]interface{}{
		"succeeded": result.Summary.Successes,
		"failed":    result.Summary.Failures,
		"report":    reportPath,
	})

	return result, nil
}

func waitForHandles(handles []*models.JobHandle, timeout time.Duration) {
	deadline := time.After(timeout)
	for _, handle := range handles {
		select {
		case <-handle.Done():
		case <-deadline:
			return
		}
	}
}

func jobID(input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if stem == "" {
		stem = "job"
	}
	return stem + "-" + uuid.NewString()[:8]
}

func containsSlot(slots []int, slot int) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
