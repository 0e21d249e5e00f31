package classify

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/foldops/gpufan/pkg/models"
)

// finishedHandle builds a handle in the terminal state with the given
// exit status, pointing at paths inside dir.
func finishedHandle(t *testing.T, dir, id string, exitStatus int) *models.JobHandle {
	t.Helper()
	handle := models.NewJobHandle(models.JobDescriptor{
		ID:        id,
		GPUSlot:   0,
		Command:   []string{"boltz", "predict", "input.yaml"},
		OutputDir: filepath.Join(dir, id),
		LogPath:   filepath.Join(dir, id+".log"),
	})
	handle.MarkRunning(1234, time.Now().Add(-time.Minute))
	handle.MarkFinished(exitStatus, time.Now())
	return handle
}

func writeLog(t *testing.T, handle *models.JobHandle, content string) {
	t.Helper()
	if err := os.WriteFile(handle.Descriptor.LogPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}
}

func writeArtifacts(t *testing.T, handle *models.JobHandle, names ...string) {
	t.Helper()
	predictions := filepath.Join(handle.Descriptor.OutputDir, PredictionsSubdir)
	if err := os.MkdirAll(predictions, 0755); err != nil {
		t.Fatalf("Failed to create predictions dir: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(predictions, name), []byte("data"), 0644); err != nil {
			t.Fatalf("Failed to write artifact: %v", err)
		}
	}
}

func TestClassify_MissingLog(t *testing.T) {
	dir := t.TempDir()
	handle := finishedHandle(t, dir, "job-a", 0)
	// artifacts present but no log file at all
	writeArtifacts(t, handle, "model_0.cif")

	outcome := New(nil).Classify(handle, handle.Descriptor.OutputDir)
	if outcome.Classification != models.ClassLogMissing {
		t.Errorf("Expected log_missing, got %s", outcome.Classification)
	}
}

func TestClassify_FailureTokenOverridesArtifactsAndExitStatus(t *testing.T) {
	dir := t.TempDir()
	handle := finishedHandle(t, dir, "job-b", 0)
	writeLog(t, handle, "loading model\nCUDA Error: out of memory\n")
	writeArtifacts(t, handle, "model_0.cif", "model_1.pdb")

	outcome := New(nil).Classify(handle, handle.Descriptor.OutputDir)
	if outcome.Classification != models.ClassFailed {
		t.Errorf("Expected failed despite artifacts and zero exit, got %s", outcome.Classification)
	}
	if outcome.ExitStatus != 0 {
		t.Errorf("Expected diagnostic exit status 0, got %d", outcome.ExitStatus)
	}
	if outcome.ArtifactCount != 2 {
		t.Errorf("Expected artifact count 2, got %d", outcome.ArtifactCount)
	}
}

func TestClassify_TokenMatchIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	for _, token := range []string{"ERROR", "Error", "error", "FAILED", "Failed"} {
		handle := finishedHandle(t, dir, "job-"+token, 0)
		writeLog(t, handle, "step 1 ok\nsomething "+token+" happened\n")

		outcome := New(nil).Classify(handle, handle.Descriptor.OutputDir)
		if outcome.Classification != models.ClassFailed {
			t.Errorf("Token %q: expected failed, got %s", token, outcome.Classification)
		}
	}
}

func TestClassify_CleanLogWithArtifacts(t *testing.T) {
	dir := t.TempDir()
	handle := finishedHandle(t, dir, "job-c", 0)
	writeLog(t, handle, "prediction complete\nwrote 1 structure\n")
	writeArtifacts(t, handle, "model_0.cif")

	outcome := New(nil).Classify(handle, handle.Descriptor.OutputDir)
	if outcome.Classification != models.ClassSuccess {
		t.Errorf("Expected success, got %s", outcome.Classification)
	}
	if outcome.ArtifactCount != 1 {
		t.Errorf("Expected artifact count 1, got %d", outcome.ArtifactCount)
	}
}

func TestClassify_CleanLogNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	handle := finishedHandle(t, dir, "job-d", 0)
	writeLog(t, handle, "prediction complete\n")

	outcome := New(nil).Classify(handle, handle.Descriptor.OutputDir)
	if outcome.Classification != models.ClassIndeterminate {
		t.Errorf("Expected indeterminate, got %s", outcome.Classification)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	dir := t.TempDir()
	handle := finishedHandle(t, dir, "job-e", 1)
	writeLog(t, handle, "prediction complete\n")
	writeArtifacts(t, handle, "model_0.pdb")

	classifier := New(nil)
	first := classifier.Classify(handle, handle.Descriptor.OutputDir)
	second := classifier.Classify(handle, handle.Descriptor.OutputDir)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical outcomes, got %+v vs %+v", first, second)
	}
}

func TestCountArtifacts_FiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	predictions := filepath.Join(dir, PredictionsSubdir)
	if err := os.MkdirAll(filepath.Join(predictions, "nested"), 0755); err != nil {
		t.Fatalf("Failed to create dirs: %v", err)
	}
	for _, name := range []string{"model_0.cif", "model_1.PDB", "confidence.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(predictions, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}

	if got := CountArtifacts(dir); got != 2 {
		t.Errorf("Expected 2 structure artifacts, got %d", got)
	}
}

func TestCountArtifacts_MissingDirIsZero(t *testing.T) {
	if got := CountArtifacts(filepath.Join(t.TempDir(), "nope")); got != 0 {
		t.Errorf("Expected 0 for missing dir, got %d", got)
	}
}

func TestTokenScan_CustomTokens(t *testing.T) {
	scan := NewTokenScan([]string{"traceback"})
	if scan.Failed("all good, no problems") {
		t.Error("Expected clean log to pass")
	}
	if !scan.Failed("Traceback (most recent call last):") {
		t.Error("Expected traceback to match")
	}
	// default tokens no longer apply when overridden
	if scan.Failed("harmless error mention") {
		t.Error("Expected custom tokens to replace defaults")
	}
}
