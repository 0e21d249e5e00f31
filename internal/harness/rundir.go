package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foldops/gpufan/pkg/models"
)

// File names inside a run directory.
const (
	JobsFile      = "jobs.json"
	OutcomesFile  = "outcomes.json"
	TelemetryFile = "telemetry.csv"
	ReportFile    = "report.txt"
)

// writeJSON persists a record into the run directory.
func writeJSON(runDir, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	path := filepath.Join(runDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadDescriptors loads the job descriptors persisted for a run.
func ReadDescriptors(runDir string) ([]models.JobDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(runDir, JobsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in %s: %w", JobsFile, runDir, err)
	}
	var descriptors []models.JobDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", JobsFile, err)
	}
	return descriptors, nil
}

// ReadOutcomes loads previously recorded outcomes, keyed by descriptor
// ID. A missing file is not an error; the caller re-classifies from the
// filesystem anyway.
func ReadOutcomes(runDir string) (map[string]models.JobOutcome, error) {
	data, err := os.ReadFile(filepath.Join(runDir, OutcomesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", OutcomesFile, err)
	}
	var outcomes []models.JobOutcome
	if err := json.Unmarshal(data, &outcomes); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", OutcomesFile, err)
	}
	byID := make(map[string]models.JobOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.DescriptorID] = o
	}
	return byID, nil
}
