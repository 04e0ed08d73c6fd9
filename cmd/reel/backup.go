package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backup"
	"github.com/reelroom/reel/internal/ui"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "maint",
	Short:   "Export and import the server database as JSONL",
	Long: `Export and import the server database (<data_dir>/reel.db) as JSONL, one
row per line. Imports keep ids and creation times and skip rows that already
exist, so a file can be imported more than once.

A running server also imports *.jsonl files dropped into import_dir.`,
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export rows to a JSONL file",
	Long: `Export rows to a JSONL file.

--since accepts RFC 3339 timestamps, dates, durations and natural language:
  reel backup export --since 2025-06-01
  reel backup export --since 48h
  reel backup export --since "last week"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		sinceText, _ := cmd.Flags().GetString("since")
		tables, _ := cmd.Flags().GetStringSlice("table")

		since, err := backup.ParseSince(sinceText, time.Now())
		if err != nil {
			return err
		}
		if out == "" {
			out = fmt.Sprintf("reel-%s.jsonl", time.Now().Format("20060102-150405"))
		}

		database, err := db.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return err
		}

		result, err := backup.ExportFile(cmd.Context(), database, out, backup.ExportOptions{Tables: tables, Since: since})
		if err != nil {
			return err
		}

		if format() != ui.FormatText {
			return ui.Encode(os.Stdout, format(), result)
		}
		fmt.Printf("%s Exported %s rows to %s\n", ui.RenderPass("✓"), ui.Count(result.Rows), out)
		names := make([]string, 0, len(result.PerTable))
		for name := range result.PerTable {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %s\n", name, ui.Count(result.PerTable[name]))
		}
		if !since.IsZero() {
			fmt.Printf("  since %s (%s)\n", since.Format(time.RFC3339), ui.Ago(since))
		}
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import rows from a JSONL file",
	Long: `Import rows from a JSONL file into the server database.

Imported rows are not pushed to open live collections; clients see them the
next time they load.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		database, err := db.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return err
		}

		result, err := backup.ImportFile(cmd.Context(), database, args[0], backup.ImportOptions{DryRun: dryRun})
		if err != nil {
			return err
		}

		if format() != ui.FormatText {
			return ui.Encode(os.Stdout, format(), result)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %s rows (%s already present)\n", ui.RenderPass("✓"), verb,
			ui.Count(result.Imported), ui.Count(result.Skipped))
		if len(result.Errors) > 0 {
			fmt.Printf("%s %d rows rejected:\n", ui.RenderWarn("⚠"), len(result.Errors))
			for _, msg := range result.Errors {
				fmt.Printf("  %s\n", msg)
			}
		}
		return nil
	},
}

func init() {
	backupExportCmd.Flags().StringP("out", "o", "", "output file (default reel-<timestamp>.jsonl)")
	backupExportCmd.Flags().String("since", "", "only rows created since this time")
	backupExportCmd.Flags().StringSlice("table", nil, "tables to export (default all)")
	backupImportCmd.Flags().Bool("dry-run", false, "validate without writing")

	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	rootCmd.AddCommand(backupCmd)
}
