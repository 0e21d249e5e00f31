package launch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/foldops/gpufan/internal/logging"
	"github.com/foldops/gpufan/pkg/models"
)

// GPUEnvVar is the device-affinity variable set on every spawned process.
const GPUEnvVar = "CUDA_VISIBLE_DEVICES"

// Launcher starts external prediction processes bound to GPU slots.
type Launcher struct {
	logger *logging.Logger
}

// New creates a launcher.
func New(logger *logging.Logger) *Launcher {
	return &Launcher{logger: logger}
}

// Launch starts the job described by desc without blocking. The output
// directory and the log file's parent are created before the spawn, so
// they exist even when the command cannot be started. A launch failure
// yields a handle that is already finished; the handle never reports a
// false running state.
func (l *Launcher) Launch(desc models.JobDescriptor) *models.JobHandle {
	handle := models.NewJobHandle(desc)

	if err := os.MkdirAll(desc.OutputDir, 0755); err != nil {
		l.failLaunch(handle, fmt.Errorf("failed to create output dir %s: %w", desc.OutputDir, err))
		return handle
	}
	if err := os.MkdirAll(filepath.Dir(desc.LogPath), 0755); err != nil {
		l.failLaunch(handle, fmt.Errorf("failed to create log dir for %s: %w", desc.LogPath, err))
		return handle
	}

	logFile, err := os.OpenFile(desc.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.failLaunch(handle, fmt.Errorf("failed to open job log %s: %w", desc.LogPath, err))
		return handle
	}

	if len(desc.Command) == 0 {
		logFile.Close()
		l.failLaunch(handle, fmt.Errorf("job %s has an empty command", desc.ID))
		return handle
	}

	cmd := exec.Command(desc.Command[0], desc.Command[1:]...)

	// New process group so a wedged job can be terminated as a unit
	// without taking the harness down with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", GPUEnvVar, desc.GPUSlot))

	// Combined stdout/stderr into the dedicated job log.
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// Leave a trace in the job log so classification sees the failure
		// the same way it would see a runtime error.
		fmt.Fprintf(logFile, "launch error: %v\n", err)
		logFile.Close()
		l.failLaunch(handle, fmt.Errorf("failed to start %s: %w", desc.Command[0], err))
		return handle
	}

	handle.MarkRunning(cmd.Process.Pid, start)
	l.logger.Info("Job launched", map[string]interface{}{
		"job_id":  desc.ID,
		"gpu":     desc.GPUSlot,
		"pid":     cmd.Process.Pid,
		"command": desc.Command[0],
	})

	go func() {
		waitErr := cmd.Wait()
		logFile.Close()

		exitCode := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}

		handle.MarkFinished(exitCode, time.Now())
		l.logger.Info("Job finished", map[string]interface{}{
			"job_id":  desc.ID,
			"gpu":     desc.GPUSlot,
			"exit":    exitCode,
			"runtime": handle.Duration().Round(time.Second).String(),
		})
	}()

	return handle
}

func (l *Launcher) failLaunch(handle *models.JobHandle, err error) {
	handle.MarkLaunchFailed(err, time.Now())
	l.logger.Error("Job launch failed", map[string]interface{}{
		"job_id": handle.Descriptor.ID,
		"gpu":    handle.Descriptor.GPUSlot,
		"error":  err.Error(),
	})
}

// TerminateGroup sends SIGTERM to the job's process group. Used by the
// optional overall timeout; the job is then marked indeterminate by the
// classifier, not failed by us.
func TerminateGroup(handle *models.JobHandle) error {
	pid := handle.PID()
	if pid <= 0 || handle.Finished() {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}
