package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/loadtest"
	"github.com/reelroom/reel/internal/logging"
	"github.com/reelroom/reel/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Load test live collections",
	Long: `Run concurrent writers against open live collections and report write and
echo latency, then verify that every observer converged to the same ordered
list the store returns.

By default the test runs in process against a scratch database. With
--remote it runs against the configured server.

Example:
  reel bench --writers 8 --observers 32 --messages 50
  reel bench --remote --server http://127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		writers, _ := cmd.Flags().GetInt("writers")
		observers, _ := cmd.Flags().GetInt("observers")
		messages, _ := cmd.Flags().GetInt("messages")
		remoteMode, _ := cmd.Flags().GetBool("remote")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		logs, err := logging.Open(logging.Options{File: cfg.Log.File, Verbose: cfg.Log.Verbose, Quiet: !cfg.Log.Verbose})
		if err != nil {
			return err
		}
		defer logs.Close()

		var connect loadtest.Connector
		target := cfg.Server.URL
		if remoteMode {
			connect = loadtest.Remote(cfg.Server.URL, logs.Debug("realtime"))
		} else {
			dir, err := os.MkdirTemp("", "reel-bench-")
			if err != nil {
				return fmt.Errorf("failed to create scratch directory: %w", err)
			}
			defer os.RemoveAll(dir)

			hub := realtime.NewHub(logs.Debug("hub"))
			defer hub.Close()
			database, err := db.OpenWithOptions(filepath.Join(dir, "bench.db"), db.Options{Publisher: hub})
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.InitSchema(); err != nil {
				return err
			}
			connect = loadtest.InProcess(database, hub)
			target = "in-process"
		}

		fmt.Printf("%s Running %d writers x %d messages against %d observers (%s)...\n",
			ui.RenderAccent("▶"), writers, messages, observers, target)

		result, err := loadtest.Run(cmd.Context(), connect, loadtest.Options{
			Writers:           writers,
			Observers:         observers,
			MessagesPerWriter: messages,
			Timeout:           timeout,
			Logger:            logs.Debug("livesync"),
		})
		if err != nil {
			return err
		}

		if format() != ui.FormatText {
			return ui.Encode(os.Stdout, format(), result)
		}

		fmt.Println()
		result.Writes.PrintStats(os.Stdout, "Write latency")
		result.Echoes.PrintStats(os.Stdout, "Echo latency")
		fmt.Printf("\nRows: %s  Duration: %v  Throughput: %.1f writes/s\n",
			ui.Count(result.Records), result.Duration.Round(time.Millisecond),
			float64(result.Writes.Count)/result.Duration.Seconds())

		if !result.Converged {
			return fmt.Errorf("observers did not converge (%d echoes missing)", result.Missing)
		}
		fmt.Println(ui.RenderPass("✓") + " All observers converged")
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("writers", 4, "concurrent writers")
	benchCmd.Flags().Int("observers", 8, "open live collections")
	benchCmd.Flags().Int("messages", 25, "messages per writer")
	benchCmd.Flags().Bool("remote", false, "run against the configured server")
	benchCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for echoes")
	rootCmd.AddCommand(benchCmd)
}
