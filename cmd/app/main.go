package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
)

func defaultConfigPath() string {
	if p := os.Getenv("PREDICT_CONFIG"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

var rootCmd = &cobra.Command{
	Use:           "predict <command>",
	Short:         "Prediction-market decision engine",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "engine", Title: "Engine:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(vaultCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
