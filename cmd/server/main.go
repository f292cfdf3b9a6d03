// Oracle Shell - terminal oracle chat and Truth Shard archive server
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "oracle-shell",
	Short: "Oracle Shell server",
	Long: `Oracle Shell serves a terminal-styled oracle chat backed by an upstream
completion API and archives every exchange as a Truth Shard.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, initDBCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
