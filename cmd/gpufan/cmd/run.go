package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foldops/gpufan/internal/harness"
	"github.com/foldops/gpufan/internal/logging"
	"github.com/foldops/gpufan/internal/telemetry"
)

var (
	runGPUs              string
	runManifest          string
	runPredictor         string
	runOutputRoot        string
	runPollInterval      time.Duration
	runTelemetryInterval time.Duration
	runStatusAddr        string
	runTimeout           time.Duration
	runPredictorArgs     []string
	runJSONLogs          bool
	runLogLevel          string
)

var runCmd = &cobra.Command{
	Use:   "run [input files...]",
	Short: "Fan prediction jobs out across GPUs",
	Long: `Run launches one prediction job per input, each pinned to its own GPU
slot, and monitors the batch to completion. Inputs come either from
positional arguments or from a YAML manifest (--manifest). Every job's
combined output lands in a timestamped run directory together with the
telemetry CSV and the completion report.

Examples:
  gpufan run target_a.yaml target_b.yaml --gpus 0,1
  gpufan run --manifest batch.yaml --gpus all --status-addr :9600
  gpufan run target.yaml --gpus 2 --predictor-arg --use_msa_server`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runGPUs, "gpus", "all", "comma-separated GPU slots, or \"all\" to use every detected device")
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "YAML job manifest instead of positional inputs")
	runCmd.Flags().StringVar(&runPredictor, "predictor", "", "predictor binary (default from config: boltz)")
	runCmd.Flags().StringVar(&runOutputRoot, "out", "", "output root for run directories (default from config: ./runs)")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 0, "liveness poll period (default from config: 30s)")
	runCmd.Flags().DurationVar(&runTelemetryInterval, "telemetry-interval", 0, "telemetry sample period (default from config: 60s)")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "enable the live status/metrics HTTP server on this address")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "terminate jobs still running after this duration (0 = none)")
	runCmd.Flags().StringArrayVar(&runPredictorArgs, "predictor-arg", nil, "extra predictor flag, repeatable, applied to every job")
	runCmd.Flags().BoolVar(&runJSONLogs, "json-logs", false, "emit harness logs as JSON")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "harness log level (default from config: info)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}

	specs, predictorOverride, err := collectJobSpecs(args)
	if err != nil {
		return err
	}
	if predictorOverride != "" && !cmd.Flags().Changed("predictor") {
		cfg.Predictor = predictorOverride
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.JSONLogs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("Received signal, shutting down", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	h := harness.New(cfg, logger)
	result, err := h.Run(ctx, specs)
	if err != nil {
		return err
	}

	if !result.AllSucceeded() {
		return fmt.Errorf("%d of %d jobs did not succeed; see %s",
			result.Summary.Total-result.Summary.Successes, result.Summary.Total, result.RunDir)
	}
	return nil
}

func buildRunConfig() (harness.Config, error) {
	cfg := harness.Config{
		Predictor:         stringOr(runPredictor, viper.GetString("predictor")),
		OutputRoot:        stringOr(runOutputRoot, viper.GetString("output_root")),
		PollInterval:      durationOr(runPollInterval, viper.GetDuration("poll_interval")),
		TelemetryInterval: durationOr(runTelemetryInterval, viper.GetDuration("telemetry_interval")),
		FailureTokens:     viper.GetStringSlice("failure_tokens"),
		StatusAddr:        stringOr(runStatusAddr, viper.GetString("status_addr")),
		Timeout:           runTimeout,
		LogLevel:          stringOr(runLogLevel, viper.GetString("log_level")),
		JSONLogs:          runJSONLogs,
	}

	slots, err := resolveGPUSlots(runGPUs)
	if err != nil {
		return cfg, err
	}
	cfg.GPUSlots = slots

	return cfg, nil
}

// resolveGPUSlots parses a comma-separated slot list, or detects every
// visible device when the list is "all".
func resolveGPUSlots(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		querier := telemetry.NewNvidiaSMIQuerier()
		if !querier.Available() {
			return nil, fmt.Errorf("cannot detect GPUs (nvidia-smi unavailable); pass --gpus explicitly")
		}
		samples, err := querier.Query()
		if err != nil {
			return nil, fmt.Errorf("GPU detection failed: %w", err)
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("no GPUs detected; pass --gpus explicitly")
		}
		slots := make([]int, 0, len(samples))
		for _, s := range samples {
			slots = append(slots, s.GPUSlot)
		}
		return slots, nil
	}

	seen := make(map[int]bool)
	var slots []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		slot, err := strconv.Atoi(part)
		if err != nil || slot < 0 {
			return nil, fmt.Errorf("invalid GPU slot %q", part)
		}
		if seen[slot] {
			return nil, fmt.Errorf("duplicate GPU slot %d", slot)
		}
		seen[slot] = true
		slots = append(slots, slot)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("no GPU slots in %q", spec)
	}
	return slots, nil
}

// collectJobSpecs builds the job list from the manifest or from the
// positional inputs. The manifest may also name the predictor binary.
func collectJobSpecs(args []string) ([]harness.JobSpec, string, error) {
	if runManifest != "" {
		if len(args) > 0 {
			return nil, "", fmt.Errorf("pass either --manifest or positional inputs, not both")
		}
		m, err := harness.LoadManifest(runManifest)
		if err != nil {
			return nil, "", err
		}
		return m.JobSpecs(), m.Predictor, nil
	}

	if len(args) == 0 {
		return nil, "", fmt.Errorf("no inputs given; pass input files or --manifest")
	}

	specs := make([]harness.JobSpec, 0, len(args))
	for _, input := range args {
		specs = append(specs, harness.JobSpec{
			Input: input,
			Args:  runPredictorArgs,
		})
	}
	return specs, "", nil
}

func stringOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
