package report

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/foldops/gpufan/pkg/models"
)

func outcome(id string, slot int, class models.Classification, duration time.Duration) models.JobOutcome {
	return models.JobOutcome{
		DescriptorID:   id,
		GPUSlot:        slot,
		Classification: class,
		Duration:       duration,
		LogPath:        "/runs/" + id + ".log",
	}
}

func TestSummarize_EfficiencyFullyParallel(t *testing.T) {
	outcomes := []models.JobOutcome{
		outcome("a", 0, models.ClassSuccess, 10*time.Second),
		outcome("b", 1, models.ClassSuccess, 10*time.Second),
		outcome("c", 2, models.ClassSuccess, 10*time.Second),
		outcome("d", 3, models.ClassSuccess, 10*time.Second),
	}

	s := Summarize(outcomes, 10*time.Second)
	if !s.EfficiencyValid {
		t.Fatal("Expected efficiency to be computed")
	}
	if s.Efficiency < 99.9 || s.Efficiency > 100.1 {
		t.Errorf("Expected 100%% efficiency, got %.2f", s.Efficiency)
	}
	if s.MeanSuccessDuration != 10*time.Second {
		t.Errorf("Expected mean 10s, got %s", s.MeanSuccessDuration)
	}
}

func TestSummarize_EfficiencySerializedJobs(t *testing.T) {
	// two 10s jobs run back to back: each occupied half the wall clock
	outcomes := []models.JobOutcome{
		outcome("a", 0, models.ClassSuccess, 10*time.Second),
		outcome("b", 1, models.ClassSuccess, 10*time.Second),
	}

	s := Summarize(outcomes, 20*time.Second)
	if !s.EfficiencyValid {
		t.Fatal("Expected efficiency to be computed")
	}
	if s.Efficiency < 49.9 || s.Efficiency > 50.1 {
		t.Errorf("Expected 50%% efficiency, got %.2f", s.Efficiency)
	}
}

func TestSummarize_ZeroSuccessesOmitsEfficiency(t *testing.T) {
	outcomes := []models.JobOutcome{
		outcome("a", 0, models.ClassFailed, 5*time.Second),
		outcome("b", 1, models.ClassLogMissing, 0),
	}

	s := Summarize(outcomes, 5*time.Second)
	if s.EfficiencyValid {
		t.Error("Expected efficiency to be omitted with zero successes")
	}
	if s.Failures != 1 || s.LogMissing != 1 {
		t.Errorf("Unexpected counts: %+v", s)
	}
}

func TestSummarize_MeanOverSuccessesOnly(t *testing.T) {
	outcomes := []models.JobOutcome{
		outcome("a", 0, models.ClassSuccess, 10*time.Second),
		outcome("b", 1, models.ClassSuccess, 20*time.Second),
		outcome("c", 2, models.ClassFailed, 90*time.Second),
	}

	s := Summarize(outcomes, 30*time.Second)
	if s.MeanSuccessDuration != 15*time.Second {
		t.Errorf("Expected mean 15s over successes only, got %s", s.MeanSuccessDuration)
	}
}

func TestGenerate_RowPerOutcomeInSubmissionOrder(t *testing.T) {
	for _, n := range []int{0, 1, 3, 7} {
		outcomes := make([]models.JobOutcome, 0, n)
		for i := 0; i < n; i++ {
			// descending slots so submission order differs from slot order
			outcomes = append(outcomes, outcome(fmt.Sprintf("job-%d", i), n-i, models.ClassSuccess, time.Second))
		}

		var buf bytes.Buffer
		Generate(&buf, outcomes, nil, time.Minute)
		output := buf.String()

		lastIdx := -1
		for i := 0; i < n; i++ {
			slot := fmt.Sprintf("%d", n-i)
			idx := strings.Index(output[lastIdx+1:], slot)
			if idx < 0 {
				t.Fatalf("N=%d: slot %s missing or out of order in report:\n%s", n, slot, output)
			}
			lastIdx += 1 + idx
		}
	}
}

func TestGenerate_EmptyTelemetryDoesNotFault(t *testing.T) {
	outcomes := []models.JobOutcome{
		outcome("a", 0, models.ClassSuccess, time.Second),
	}

	var buf bytes.Buffer
	Generate(&buf, outcomes, []models.TelemetrySample{}, time.Second)

	if strings.Contains(buf.String(), "Telemetry") {
		t.Error("Expected telemetry section omitted for empty sequence")
	}
}

func TestGenerate_TelemetryPeaks(t *testing.T) {
	outcomes := []models.JobOutcome{outcome("a", 0, models.ClassSuccess, time.Second)}
	now := time.Now()
	samples := []models.TelemetrySample{
		{Timestamp: now, GPUSlot: 0, MemoryUsedMiB: 1000, MemoryTotalMiB: 16000, UtilizationPercent: 30},
		{Timestamp: now.Add(time.Minute), GPUSlot: 0, MemoryUsedMiB: 9000, MemoryTotalMiB: 16000, UtilizationPercent: 95},
	}

	var buf bytes.Buffer
	Generate(&buf, outcomes, samples, time.Second)
	output := buf.String()

	if !strings.Contains(output, "95.0%") {
		t.Errorf("Expected peak utilization 95.0%% in report:\n%s", output)
	}
	if !strings.Contains(output, "9000 MiB") {
		t.Errorf("Expected peak memory 9000 MiB in report:\n%s", output)
	}
}

func TestGenerate_LogPointersForNonSuccess(t *testing.T) {
	outcomes := []models.JobOutcome{
		outcome("good", 0, models.ClassSuccess, time.Second),
		outcome("bad", 1, models.ClassFailed, time.Second),
		outcome("odd", 2, models.ClassIndeterminate, time.Second),
	}

	var buf bytes.Buffer
	Generate(&buf, outcomes, nil, time.Second)
	output := buf.String()

	if !strings.Contains(output, "/runs/bad.log") {
		t.Error("Expected log pointer for failed job")
	}
	if !strings.Contains(output, "/runs/odd.log") {
		t.Error("Expected log pointer for indeterminate job")
	}
	if strings.Contains(output, "/runs/good.log") {
		t.Error("Did not expect log pointer for successful job")
	}
}
