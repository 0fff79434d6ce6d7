package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const app = "matchengine"

var rootCmd = &cobra.Command{
	Use:   app,
	Short: "matchengine matches healthcare jobs and professionals by embedding similarity",
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		// Ignore a missing .env; the environment wins either way.
		_ = godotenv.Load()
	})
}
