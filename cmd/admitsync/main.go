package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/admitsync-io/admitsync/internal/config"
	"github.com/admitsync-io/admitsync/internal/logging"
	"github.com/admitsync-io/admitsync/internal/pipeline"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "admitsync",
	Short: "admitsync - mailbox-to-database patient admission ingestion",
	Long: `admitsync ingests hospital admission reports delivered by email.

Each run logs into the configured mailbox, downloads the newest report
archive matching the sender and subject filters, unpacks it, and inserts
the admissions not already present in the destination table.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var configFileFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one ingestion run",
	Long: `Run the ingestion pipeline once and exit.

A run that finds no matching message terminates normally, exactly like a
run that inserted rows; the log file records the difference.`,
	RunE: runPipeline,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("admitsync %s\n", rootCmd.Version)
	},
}

func init() {
	runCmd.Flags().StringVar(&configFileFlag, "config", "", "Path to a YAML config file (optional, ADMITSYNC_* env vars always apply)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFileFlag)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.File)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := pipeline.New(cfg, logger).Run(ctx)
	fmt.Printf("run %s: %d rows parsed, %d inserted, %d already present, %d failed\n",
		summary.RunID, summary.RowsParsed, summary.Inserted, summary.SkippedExisting, summary.Failed)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
