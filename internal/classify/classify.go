package classify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/foldops/gpufan/pkg/models"
)

// DefaultFailureTokens are the substrings that mark a job log as failed.
var DefaultFailureTokens = []string{"error", "failed"}

// ArtifactExtensions are the output file types counted as structure
// artifacts under the predictions directory.
var ArtifactExtensions = []string{".cif", ".pdb"}

// PredictionsSubdir is where the predictor writes its artifacts,
// relative to a job's output directory.
const PredictionsSubdir = "predictions"

// LogClassifier decides whether a job log indicates failure. Pluggable so
// the substring heuristic can later be replaced by a structured status
// check without touching the rest of the harness.
type LogClassifier interface {
	// Failed reports whether the log content indicates a failed run.
	Failed(logContent string) bool
}

// TokenScan is the default LogClassifier: a case-insensitive substring
// match against a fixed token list. It is a heuristic, not a guarantee;
// a benign log line containing "error" is misclassified as a failure.
type TokenScan struct {
	Tokens []string
}

// NewTokenScan builds a TokenScan; an empty token list falls back to the
// defaults.
func NewTokenScan(tokens []string) *TokenScan {
	if len(tokens) == 0 {
		tokens = DefaultFailureTokens
	}
	return &TokenScan{Tokens: tokens}
}

// Failed scans for any failure token, ignoring case.
func (t *TokenScan) Failed(logContent string) bool {
	lower := strings.ToLower(logContent)
	for _, token := range t.Tokens {
		if strings.Contains(lower, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// Classifier evaluates finished job handles into outcomes.
type Classifier struct {
	logClassifier LogClassifier
}

// New creates a classifier; a nil logClassifier gets the default token scan.
func New(logClassifier LogClassifier) *Classifier {
	if logClassifier == nil {
		logClassifier = NewTokenScan(nil)
	}
	return &Classifier{logClassifier: logClassifier}
}

// Classify inspects a finished handle's log and artifacts. The evaluation
// order is fixed for behavioral compatibility with the harness this
// replaces:
//
//  1. missing log file        -> log_missing
//  2. log matches failure     -> failed (overrides exit status; layered
//     process wrapping makes exit codes unreliable here)
//  3. non-empty artifact dir  -> success
//  4. otherwise               -> indeterminate
//
// The real exit status is recorded on the outcome for diagnostics but a
// zero exit never overrides a failed log scan. Classification is a pure
// function of the handle and filesystem state, so repeated calls yield
// identical outcomes.
func (c *Classifier) Classify(handle *models.JobHandle, artifactDir string) models.JobOutcome {
	outcome := models.JobOutcome{
		DescriptorID: handle.Descriptor.ID,
		GPUSlot:      handle.Descriptor.GPUSlot,
		Duration:     handle.Duration(),
		LogPath:      handle.Descriptor.LogPath,
	}
	if status, ok := handle.ExitStatus(); ok {
		outcome.ExitStatus = status
	}
	outcome.ArtifactCount = CountArtifacts(artifactDir)

	logContent, err := os.ReadFile(handle.Descriptor.LogPath)
	if err != nil {
		outcome.Classification = models.ClassLogMissing
		return outcome
	}

	if c.logClassifier.Failed(string(logContent)) {
		outcome.Classification = models.ClassFailed
		return outcome
	}

	if outcome.ArtifactCount > 0 {
		outcome.Classification = models.ClassSuccess
		return outcome
	}

	outcome.Classification = models.ClassIndeterminate
	return outcome
}

// CountArtifacts counts structure files under dir/predictions. A missing
// or unreadable directory counts as zero artifacts, never an error.
func CountArtifacts(dir string) int {
	predictions := filepath.Join(dir, PredictionsSubdir)
	entries, err := os.ReadDir(predictions)
	if err != nil {
		return 0
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range ArtifactExtensions {
			if ext == want {
				count++
				break
			}
		}
	}
	return count
}
