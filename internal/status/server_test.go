package status

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foldops/gpufan/pkg/models"
)

func testHandles() []*models.JobHandle {
	running := models.NewJobHandle(models.JobDescriptor{ID: "job-a", GPUSlot: 0})
	running.MarkRunning(4242, time.Now().Add(-time.Minute))

	finished := models.NewJobHandle(models.JobDescriptor{ID: "job-b", GPUSlot: 1})
	finished.MarkRunning(4243, time.Now().Add(-time.Minute))
	finished.MarkFinished(0, time.Now())

	return []*models.JobHandle{running, finished}
}

func TestStatusEndpoint(t *testing.T) {
	s := NewServer(":0", testHandles())

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var payload struct {
		Jobs  []jobStatus `json:"jobs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to parse status JSON: %v", err)
	}
	if payload.Count != 2 {
		t.Errorf("Expected 2 jobs, got %d", payload.Count)
	}
	if payload.Jobs[0].State != "running" || payload.Jobs[1].State != "finished" {
		t.Errorf("Unexpected states: %+v", payload.Jobs)
	}
	if payload.Jobs[0].PID != 4242 {
		t.Errorf("Expected PID 4242, got %d", payload.Jobs[0].PID)
	}
}

func TestStart_ReportsBindFailure(t *testing.T) {
	// occupy a port so ListenAndServe cannot bind it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer ln.Close()

	s := NewServer(ln.Addr().String(), testHandles())
	errCh := make(chan error, 1)
	s.Start(errCh)

	select {
	case bindErr, ok := <-errCh:
		if !ok || bindErr == nil {
			t.Fatal("Expected a bind error on the channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for bind error")
	}

	select {
	case _, ok := <-errCh:
		if ok {
			t.Error("Expected channel closed after the serve loop ended")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Channel not closed after the serve loop ended")
	}
}

func TestWriteSnapshot(t *testing.T) {
	s := NewServer(":0", testHandles())
	s.SetCounts(1, 1)
	s.ObserveTelemetry([]models.TelemetrySample{
		{GPUSlot: 0, MemoryUsedMiB: 2048, MemoryTotalMiB: 16384, UtilizationPercent: 88},
	})

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := s.WriteSnapshot(path); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"gpufan_jobs_total 2",
		"gpufan_jobs_running 1",
		"gpufan_jobs_finished 1",
		`gpufan_gpu_utilization_percent{gpu="0"} 88`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Snapshot missing %q:\n%s", want, content)
		}
	}
}
