package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/config"
	"github.com/reelroom/reel/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the reel config file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a config file with the defaults",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = filepath.Join(config.DefaultDir(), config.FileName)
		}
		if err := config.Init(path, config.Default()); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after merging defaults, the config file,
REEL_* environment variables and flags. The session secret is redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# %s\n", used)
		}
		if format() == ui.FormatJSON {
			redacted := *cfg
			if redacted.Session.Secret != "" {
				redacted.Session.Secret = "<redacted>"
			}
			return ui.Encode(os.Stdout, ui.FormatJSON, redacted)
		}
		return cfg.WriteYAML(os.Stdout)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
