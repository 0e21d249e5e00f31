package telemetry

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/foldops/gpufan/pkg/models"
)

// DeviceQuerier produces one telemetry sample per device per query.
type DeviceQuerier interface {
	// Query returns current samples for all visible devices.
	Query() ([]models.TelemetrySample, error)
	// Available reports whether the underlying tool can be used at all.
	Available() bool
}

// NvidiaSMIQuerier shells out to nvidia-smi for device stats.
type NvidiaSMIQuerier struct {
	available bool
}

// NewNvidiaSMIQuerier probes for nvidia-smi once at construction.
func NewNvidiaSMIQuerier() *NvidiaSMIQuerier {
	q := &NvidiaSMIQuerier{}
	if err := exec.Command("nvidia-smi", "-L").Run(); err == nil {
		q.available = true
	}
	return q
}

// Available reports whether nvidia-smi responded at probe time.
func (q *NvidiaSMIQuerier) Available() bool {
	return q.available
}

// Query runs the device query and parses its CSV output.
func (q *NvidiaSMIQuerier) Query() ([]models.TelemetrySample, error) {
	cmd := exec.Command("nvidia-smi",
		"--query-gpu=index,memory.used,memory.total,utilization.gpu",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query nvidia-smi: %w", err)
	}
	return ParseDeviceCSV(string(output), time.Now()), nil
}

// ParseDeviceCSV parses `index, memory.used, memory.total, utilization.gpu`
// records. Parsing is defensive: whitespace is stripped and unparseable
// lines are skipped rather than failing the whole query.
func ParseDeviceCSV(output string, ts time.Time) []models.TelemetrySample {
	var samples []models.TelemetrySample

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			continue
		}

		slot, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		memUsed, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		memTotal, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			continue
		}
		util, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
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

	return samples
}
