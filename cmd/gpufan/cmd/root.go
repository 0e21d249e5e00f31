package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gpufan",
	Short: "GPU job fan-out and monitoring harness",
	Long: `gpufan dispatches independent prediction jobs across a pool of GPUs,
monitors their liveness, records device telemetry, and summarizes the
outcome of every job in a completion report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gpufan/config.yaml)")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".gpufan"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("gpufan")
	viper.AutomaticEnv()

	viper.SetDefault("predictor", "boltz")
	viper.SetDefault("output_root", "./runs")
	viper.SetDefault("poll_interval", "30s")
	viper.SetDefault("telemetry_interval", "60s")
	viper.SetDefault("failure_tokens", []string{"error", "failed"})
	viper.SetDefault("status_addr", "")
	viper.SetDefault("log_level", "info")

	// Missing config file is fine, defaults and env still apply.
	_ = viper.ReadInConfig()
}
