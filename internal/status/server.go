package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/foldops/gpufan/pkg/models"
)

// Server exposes the live state of a run over HTTP: /status with job
// states as JSON and /metrics in Prometheus text format. Optional; the
// harness works identically without it.
type Server struct {
	registry *prometheus.Registry
	handles  []*models.JobHandle
	srv      *http.Server

	jobsRunning    prometheus.Gauge
	jobsFinished   prometheus.Gauge
	jobsTotal      prometheus.Gauge
	gpuUtilization *prometheus.GaugeVec
	gpuMemoryUsed  *prometheus.GaugeVec
}

// NewServer builds a server for the given handles listening on addr.
func NewServer(addr string, handles []*models.JobHandle) *Server {
	registry := prometheus.NewRegistry()

	s := &Server{
		registry: registry,
		handles:  handles,
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpufan_jobs_running",
			Help: "Jobs currently running",
		}),
		jobsFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpufan_jobs_finished",
			Help: "Jobs that reached a terminal state",
		}),
		jobsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpufan_jobs_total",
			Help: "Jobs launched in this run",
		}),
		gpuUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpufan_gpu_utilization_percent",
			Help: "Last sampled GPU utilization per slot",
		}, []string{"gpu"}),
		gpuMemoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpufan_gpu_memory_used_mib",
			Help: "Last sampled GPU memory usage per slot in MiB",
		}, []string{"gpu"}),
	}

	registry.MustRegister(s.jobsRunning)
	registry.MustRegister(s.jobsFinished)
	registry.MustRegister(s.jobsTotal)
	registry.MustRegister(s.gpuUtilization)
	registry.MustRegister(s.gpuMemoryUsed)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gpufan_host_cpu_percent",
		Help: "Host CPU utilization",
	}, func() float64 {
		if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
			return pct[0]
		}
		return 0
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gpufan_host_memory_used_bytes",
		Help: "Host memory in use",
	}, func() float64 {
		if vm, err := mem.VirtualMemory(); err == nil {
			return float64(vm.Used)
		}
		return 0
	}))

	s.jobsTotal.Set(float64(len(handles)))

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving in the background. Errors other than a clean
// shutdown are reported through errCh, which is closed when the serve
// loop ends.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		defer close(errCh)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("status server failed: %w", err)
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// SetCounts updates the job gauges; wired to the liveness monitor's poll.
func (s *Server) SetCounts(running, finished int) {
	s.jobsRunning.Set(float64(running))
	s.jobsFinished.Set(float64(finished))
}

// ObserveTelemetry updates the per-slot device gauges; wired to the
// telemetry sampler.
func (s *Server) ObserveTelemetry(samples []models.TelemetrySample) {
	for _, sample := range samples {
		label := fmt.Sprintf("%d", sample.GPUSlot)
		s.gpuUtilization.WithLabelValues(label).Set(sample.UtilizationPercent)
		s.gpuMemoryUsed.WithLabelValues(label).Set(sample.MemoryUsedMiB)
	}
}

type jobStatus struct {
	ID       string  `json:"id"`
	GPUSlot  int     `json:"gpu_slot"`
	State    string  `json:"state"`
	PID      int     `json:"pid,omitempty"`
	Duration float64 `json:"duration_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]jobStatus, 0, len(s.handles))
	for _, h := range s.handles {
		statuses = append(statuses, jobStatus{
			ID:       h.Descriptor.ID,
			GPUSlot:  h.Descriptor.GPUSlot,
			State:    string(h.State()),
			PID:      h.PID(),
			Duration: h.Duration().Seconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  statuses,
		"count": len(statuses),
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteSnapshot gathers the registry and writes a Prometheus text-format
// snapshot of the final metric values into path.
func (s *Server) WriteSnapshot(path string) error {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot %s: %w", path, err)
	}
	defer f.Close()

	encoder := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
