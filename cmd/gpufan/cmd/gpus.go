package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/foldops/gpufan/internal/telemetry"
)

var gpusCmd = &cobra.Command{
	Use:   "gpus",
	Short: "List detected GPU devices",
	Long:  `Queries the device tool and lists every visible GPU slot with its current memory usage and utilization.`,
	RunE:  runGPUsList,
}

func init() {
	rootCmd.AddCommand(gpusCmd)
}

func runGPUsList(cmd *cobra.Command, args []string) error {
	querier := telemetry.NewNvidiaSMIQuerier()
	if !querier.Available() {
		return fmt.Errorf("no device query tool available (nvidia-smi not found)")
	}

	samples, err := querier.Query()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Println("No GPUs detected")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("GPU", "Memory Used", "Memory Total", "Utilization")
	for _, s := range samples {
		table.Append(
			fmt.Sprintf("%d", s.GPUSlot),
			fmt.Sprintf("%.0f MiB", s.MemoryUsedMiB),
			fmt.Sprintf("%.0f MiB", s.MemoryTotalMiB),
			fmt.Sprintf("%.0f%%", s.UtilizationPercent),
		)
	}
	table.Render()

	fmt.Printf("\nTotal GPUs: %d\n", len(samples))
	return nil
}
