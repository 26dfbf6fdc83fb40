// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim exercises a demand-paged virtual-memory core.",
	Long: `vmsim builds a virtual-memory core with a frame table, a swap ` +
		`store and memory-mapped files, and drives it with concurrent ` +
		`processes. Flags default to VMSIM_* environment variables, which ` +
		`can also be given in a .env file.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loadEnv()

		level, err := parseLevel(stringOption(cmd, "log-level", "VMSIM_LOG_LEVEL", "info"))
		if err != nil {
			return err
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: level})))

		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "",
		"debug, info, warn or error (VMSIM_LOG_LEVEL, default info)")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

// loadEnv reads .env if there is one. Variables already set win.
func loadEnv() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Ignoring .env: %v\n", err)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return 0, fmt.Errorf("unknown log level %q", s)
}
