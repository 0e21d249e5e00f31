package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/foldops/gpufan/pkg/models"
)

// Summary holds the aggregate statistics computed over a run.
type Summary struct {
	Total         int
	Successes     int
	Failures      int
	Indeterminate int
	LogMissing    int

	// MeanSuccessDuration is averaged over successful jobs only.
	MeanSuccessDuration time.Duration

	// Efficiency is mean_success_duration / wall_clock * 100: 100% when
	// every successful job ran for the full wall clock in parallel, lower
	// when jobs serialized. EfficiencyValid is false when there are zero
	// successes or no wall clock, in which case the figure is omitted,
	// not computed.
	Efficiency      float64
	EfficiencyValid bool
}

// Summarize computes aggregates over the outcomes of one run.
func Summarize(outcomes []models.JobOutcome, wallClock time.Duration) Summary {
	s := Summary{Total: len(outcomes)}

	var successTotal time.Duration
	for _, o := range outcomes {
		switch o.Classification {
		case models.ClassSuccess:
			s.Successes++
			successTotal += o.Duration
		case models.ClassFailed:
			s.Failures++
		case models.ClassIndeterminate:
			s.Indeterminate++
		case models.ClassLogMissing:
			s.LogMissing++
		}
	}

	if s.Successes > 0 {
		s.MeanSuccessDuration = successTotal / time.Duration(s.Successes)
		if wallClock > 0 {
			s.Efficiency = s.MeanSuccessDuration.Seconds() / wallClock.Seconds() * 100
			s.EfficiencyValid = true
		}
	}

	return s
}

// Generate writes the human-readable completion report: a fixed-column
// table in original submission order, the aggregate summary, telemetry
// peaks, and log pointers for every job that did not succeed. An empty
// telemetry sequence is valid and simply omits the telemetry section.
func Generate(w io.Writer, outcomes []models.JobOutcome, telemetry []models.TelemetrySample, wallClock time.Duration) {
	fmt.Fprintf(w, "Run report: %d job(s), wall clock %s\n\n", len(outcomes), wallClock.Round(time.Second))

	table := tablewriter.NewWriter(w)
	table.Header("GPU", "Status", "Duration", "Artifacts")
	for _, o := range outcomes {
		table.Append(
			fmt.Sprintf("%d", o.GPUSlot),
			string(o.Classification),
			o.Duration.Round(time.Second).String(),
			fmt.Sprintf("%d", o.ArtifactCount),
		)
	}
	table.Render()

	s := Summarize(outcomes, wallClock)
	fmt.Fprintf(w, "\nSucceeded: %d  Failed: %d  Indeterminate: %d  Log missing: %d\n",
		s.Successes, s.Failures, s.Indeterminate, s.LogMissing)
	if s.Successes > 0 {
		fmt.Fprintf(w, "Mean duration (successful jobs): %s\n", s.MeanSuccessDuration.Round(time.Second))
	}
	if s.EfficiencyValid {
		fmt.Fprintf(w, "Parallel efficiency: %.1f%%\n", s.Efficiency)
	}

	writeTelemetrySection(w, telemetry)
	writeLogPointers(w, outcomes)
}

func writeTelemetrySection(w io.Writer, telemetry []models.TelemetrySample) {
	if len(telemetry) == 0 {
		return
	}

	type peak struct {
		util float64
		mem  float64
	}
	peaks := make(map[int]peak)
	slots := make([]int, 0)
	for _, sample := range telemetry {
		p, seen := peaks[sample.GPUSlot]
		if !seen {
			slots = append(slots, sample.GPUSlot)
		}
		if sample.UtilizationPercent > p.util {
			p.util = sample.UtilizationPercent
		}
		if sample.MemoryUsedMiB > p.mem {
			p.mem = sample.MemoryUsedMiB
		}
		peaks[sample.GPUSlot] = p
	}

	fmt.Fprintf(w, "\nTelemetry (%d samples):\n", len(telemetry))
	for _, slot := range slots {
		p := peaks[slot]
		fmt.Fprintf(w, "  GPU %d: peak utilization %.1f%%, peak memory %.0f MiB\n", slot, p.util, p.mem)
	}
}

func writeLogPointers(w io.Writer, outcomes []models.JobOutcome) {
	wroteHeader := false
	for _, o := range outcomes {
		if o.Classification == models.ClassSuccess {
			continue
		}
		if !wroteHeader {
			fmt.Fprintf(w, "\nJobs needing attention:\n")
			wroteHeader = true
		}
		fmt.Fprintf(w, "  %s (GPU %d): %s, see %s\n", o.DescriptorID, o.GPUSlot, o.Classification, o.LogPath)
	}
}

// WriteFile renders the report into path, creating or truncating it.
func WriteFile(path string, outcomes []models.JobOutcome, telemetry []models.TelemetrySample, wallClock time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file %s: %w", path, err)
	}
	defer f.Close()

	Generate(f, outcomes, telemetry, wallClock)
	return nil
}
