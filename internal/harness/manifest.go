package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML description of a job batch:
//
//	predictor: boltz
//	jobs:
//	  - input: targets/complex_a.yaml
//	    args: ["--use_msa_server"]
//	    gpu: 0
//	  - input: targets/complex_b.yaml
//
// The gpu field is optional; unpinned jobs are assigned round-robin from
// the configured slot pool.
type Manifest struct {
	Predictor string        `yaml:"predictor,omitempty"`
	Jobs      []ManifestJob `yaml:"jobs"`
}

// ManifestJob is one entry of the jobs list.
type ManifestJob struct {
	Input string   `yaml:"input"`
	Args  []string `yaml:"args,omitempty"`
	GPU   *int     `yaml:"gpu,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("manifest %s contains no jobs", path)
	}
	for i, job := range m.Jobs {
		if job.Input == "" {
			return nil, fmt.Errorf("manifest %s: job %d has no input", path, i)
		}
		if job.GPU != nil && *job.GPU < 0 {
			return nil, fmt.Errorf("manifest %s: job %d has negative GPU slot", path, i)
		}
	}

	return &m, nil
}

// JobSpecs converts manifest entries into harness job specs.
func (m *Manifest) JobSpecs() []JobSpec {
	specs := make([]JobSpec, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		specs = append(specs, JobSpec{
			Input:   job.Input,
			Args:    job.Args,
			GPUSlot: job.GPU,
		})
	}
	return specs
}
