package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foldops/gpufan/internal/classify"
	"github.com/foldops/gpufan/internal/harness"
	"github.com/foldops/gpufan/internal/report"
	"github.com/foldops/gpufan/internal/telemetry"
	"github.com/foldops/gpufan/pkg/models"
)

var reportWrite bool

var reportCmd = &cobra.Command{
	Use:   "report <run-dir>",
	Short: "Regenerate the report for an existing run directory",
	Long: `Report re-classifies every job of a completed run from its log and
artifacts on disk and regenerates the completion report. Classification
is a pure function of filesystem state, so this is safe to repeat.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().BoolVar(&reportWrite, "write", false, "also rewrite report.txt in the run directory")
}

func runReport(cmd *cobra.Command, args []string) error {
	runDir := args[0]

	descriptors, err := harness.ReadDescriptors(runDir)
	if err != nil {
		return err
	}

	// Recorded outcomes carry the original durations; the classification
	// itself is redone from the filesystem.
	recorded, err := harness.ReadOutcomes(runDir)
	if err != nil {
		return err
	}

	classifier := classify.New(classify.NewTokenScan(viper.GetStringSlice("failure_tokens")))
	outcomes := make([]models.JobOutcome, 0, len(descriptors))
	var wallClock time.Duration
	for _, desc := range descriptors {
		handle := models.NewJobHandle(desc)
		handle.MarkFinished(0, time.Time{})

		outcome := classifier.Classify(handle, desc.OutputDir)
		if prev, ok := recorded[desc.ID]; ok {
			outcome.Duration = prev.Duration
			outcome.ExitStatus = prev.ExitStatus
			if prev.Duration > wallClock {
				wallClock = prev.Duration
			}
		}
		outcomes = append(outcomes, outcome)
	}

	samples, err := telemetry.ReadCSV(filepath.Join(runDir, harness.TelemetryFile))
	if err != nil {
		return err
	}

	report.Generate(os.Stdout, outcomes, samples, wallClock)

	if reportWrite {
		return report.WriteFile(filepath.Join(runDir, harness.ReportFile), outcomes, samples, wallClock)
	}
	return nil
}
