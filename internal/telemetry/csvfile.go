package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/foldops/gpufan/pkg/models"
)

// ReadCSV loads a telemetry CSV written by the sampler. Malformed rows
// are skipped, mirroring the defensive parsing on the query side. A
// missing file yields an empty, valid sample sequence.
func ReadCSV(path string) ([]models.TelemetrySample, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open telemetry file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry file %s: %w", path, err)
	}

	var samples []models.TelemetrySample
	for i, record := range records {
		if i == 0 || len(record) < 5 {
			// header or short row
			continue
		}
		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			continue
		}
		slot, err := strconv.Atoi(record[1])
		if err != nil {
			continue
		}
		memUsed, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			continue
		}
		memTotal, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			continue
		}
		util, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			continue
		}

		samples = append(samples, models.TelemetrySample{
			Timestamp:          ts,
			GPUSlot:            slot,
			MemoryUsedMiB:      memUsed,
			MemoryTotalMiB:     memTotal,
			UtilizationPercent: util,
		})
	}

	return samples, nil
}
