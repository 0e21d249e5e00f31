package monitor

import (
	"context"
	"time"

	"github.com/foldops/gpufan/internal/logging"
	"github.com/foldops/gpufan/pkg/models"
)

// Monitor polls a set of job handles and reports running/finished counts
// until every job has finished. The per-interval counts line is the only
// liveness signal surfaced to the operator.
type Monitor struct {
	interval time.Duration
	logger   *logging.Logger

	// optional observer, called once per poll with the current counts
	OnPoll func(running, finished int)
}

// New creates a monitor with the given poll interval.
func New(interval time.Duration, logger *logging.Logger) *Monitor {
	return &Monitor{interval: interval, logger: logger}
}

// Poll returns the number of running and finished jobs. Handles that
// failed to launch count as finished.
func Poll(handles []*models.JobHandle) (running, finished int) {
	for _, h := range handles {
		if h.Finished() {
			finished++
		} else {
			running++
		}
	}
	return running, finished
}

// Run blocks until all handles are finished or ctx is canceled. A job
// that is merely slow keeps the loop alive; no timeout is imposed here.
// Returns the final (running, finished) counts.
func (m *Monitor) Run(ctx context.Context, handles []*models.JobHandle) (int, int) {
	running, finished := Poll(handles)
	m.report(running, finished)
	if running == 0 {
		return running, finished
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Completion notification: a single goroutine waits on every handle's
	// done channel and signals when the last one closes, so the loop can
	// end promptly instead of waiting out a full poll interval.
	allDone := make(chan struct{})
	go func() {
		for _, h := range handles {
			select {
			case <-h.Done():
			case <-ctx.Done():
				return
			}
		}
		close(allDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return Poll(handles)
		case <-allDone:
			running, finished = Poll(handles)
			m.report(running, finished)
			return running, finished
		case <-ticker.C:
			running, finished = Poll(handles)
			m.report(running, finished)
			if running == 0 {
				return running, finished
			}
		}
	}
}

func (m *Monitor) report(running, finished int) {
	m.logger.Info("Job status", map[string]interface{}{
		"running":  running,
		"finished": finished,
	})
	if m.OnPoll != nil {
		m.OnPoll(running, finished)
	}
}
