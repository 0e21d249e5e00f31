package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/foldops/gpufan/internal/logging"
	"github.com/foldops/gpufan/pkg/models"
)

// Sampler collects device telemetry on a fixed period, independent of
// job lifecycle, and appends every sample to a durable CSV sink.
// If the telemetry source is unavailable it disables itself after a
// single warning instead of aborting the run.
type Sampler struct {
	querier  DeviceQuerier
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	samples []models.TelemetrySample

	// optional observer, called with each batch of fresh samples
	OnSamples func([]models.TelemetrySample)
}

// NewSampler creates a sampler with the given query period.
func NewSampler(querier DeviceQuerier, interval time.Duration, logger *logging.Logger) *Sampler {
	return &Sampler{
		querier:  querier,
		interval: interval,
		logger:   logger,
	}
}

// Run samples until ctx is canceled, streaming rows to csvPath.
// Cancellation is cooperative: the loop finishes its current write and
// returns, so the CSV is never truncated mid-record. Zero samples is a
// valid outcome when jobs finish before the first interval elapses.
func (s *Sampler) Run(ctx context.Context, csvPath string) error {
	if !s.querier.Available() {
		s.logger.Warn("Telemetry source unavailable, sampling disabled")
		return nil
	}

	f, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.logger.Warn("Failed to open telemetry sink, sampling disabled", map[string]interface{}{
			"path":  csvPath,
			"error": err.Error(),
		})
		return nil
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "gpu_slot", "memory_used_mib", "memory_total_mib", "utilization_percent"}); err != nil {
		return fmt.Errorf("failed to write telemetry header: %w", err)
	}
	w.Flush()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return nil
		case <-ticker.C:
			batch, err := s.querier.Query()
			if err != nil {
				// One warning, then stop querying for the rest of the run.
				s.logger.Warn("Telemetry query failed, sampling disabled", map[string]interface{}{
					"error": err.Error(),
				})
				return nil
			}

			for _, sample := range batch {
				record := []string{
					sample.Timestamp.Format(time.RFC3339),
					strconv.Itoa(sample.GPUSlot),
					strconv.FormatFloat(sample.MemoryUsedMiB, 'f', 1, 64),
					strconv.FormatFloat(sample.MemoryTotalMiB, 'f', 1, 64),
					strconv.FormatFloat(sample.UtilizationPercent, 'f', 1, 64),
				}
				if err := w.Write(record); err != nil {
					s.logger.Warn("Failed to append telemetry sample", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}
			w.Flush()

			s.mu.Lock()
			s.samples = append(s.samples, batch...)
			s.mu.Unlock()

			if s.OnSamples != nil && len(batch) > 0 {
				s.OnSamples(batch)
			}
		}
	}
}

// Samples returns a copy of everything collected so far, in timestamp order.
func (s *Sampler) Samples() []models.TelemetrySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TelemetrySample, len(s.samples))
	copy(out, s.samples)
	return out
}
