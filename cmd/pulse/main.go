// Command pulse is the operator CLI for the storefront pulse API: a
// terminal dashboard, a sample event sender and a bus tail.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timezone  string
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:          "pulse",
	Short:        "Operator CLI for the storefront pulse API",
	SilenceUsage: true,
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PULSE_SERVER", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("DASHBOARD_API_KEY"), "dashboard API key")
	rootCmd.PersistentFlags().StringVar(&timezone, "tz", envOr("DISPLAY_TIMEZONE", "Asia/Dubai"), "display timezone")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(tailCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
