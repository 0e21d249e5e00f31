package models

import "time"

// TelemetrySample is one point-in-time measurement of a single device.
// Samples form an append-only sequence ordered by timestamp, produced
// independently of the job lifecycle.
type TelemetrySample struct {
	Timestamp          time.Time `json:"timestamp"`
	GPUSlot            int       `json:"gpu_slot"`
	MemoryUsedMiB      float64   `json:"memory_used_mib"`
	MemoryTotalMiB     float64   `json:"memory_total_mib"`
	UtilizationPercent float64   `json:"utilization_percent"`
}
