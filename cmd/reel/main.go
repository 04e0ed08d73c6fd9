// Command reel is the movie community chat CLI and server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/config"
	"github.com/reelroom/reel/internal/ui"
)

var (
	configPath   string
	outputFormat string

	// v holds the merged configuration layers; cfg is its decoded form.
	v   = config.NewViper()
	cfg *config.Config
)

// skipConfig marks commands that run without loading the config file.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "reel - movie community chat, comments and watchlists",
	Long: `reel keeps ordered live views of the community chat, per-movie comments and
your watchlist in sync with a reel server.

Start a server with 'reel serve', log in with 'reel login', then follow the
chat with 'reel chat tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ui.ParseFormat(outputFormat); err != nil {
			return err
		}
		ui.Init()

		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "live", Title: "Live collections:"},
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default "+config.DefaultDir()+"/"+config.FileName+")")
	flags.StringVar(&outputFormat, "format", "text", "output format (text|json|yaml)")
	flags.String("server", "", "server base URL (overrides server.url)")
	flags.String("data-dir", "", "data directory (overrides data_dir)")
	flags.BoolP("verbose", "v", false, "verbose logging")

	bindFlag("server.url", "server")
	bindFlag("data_dir", "data-dir")
	bindFlag("log.verbose", "verbose")
}

// bindFlag lets a persistent flag override a config key.
func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func format() ui.Format {
	f, _ := ui.ParseFormat(outputFormat)
	return f
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderFail("Error: ")+err.Error())
		os.Exit(1)
	}
}
