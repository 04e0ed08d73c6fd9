package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/daemon"
	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/config"
	"github.com/reelroom/reel/internal/logging"
	"github.com/reelroom/reel/internal/session"
	"github.com/reelroom/reel/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the reel server",
	Long: `Run the reel backend: the REST API, the realtime WebSocket endpoint and,
when import_dir is set, the backup inbox.

The server stores everything in <data_dir>/reel.db. Changes to the config
file are picked up while running (server.max_limit, log.verbose).

POST /auth/token issues a token for any user id. It is enabled by
server.dev_login: "auto" (default) turns it on only when listening on a
loopback address, "on" and "off" force it.

Endpoints:
  GET  /healthz
  POST /auth/token
  GET  /rest/{table}?filter=field=eq.value&limit=N
  POST/PATCH/DELETE /rest/{table}[/{id}]
  GET  /realtime?filter=table:field=eq.value   (WebSocket)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if dir, _ := cmd.Flags().GetString("import-dir"); dir != "" {
			cfg.ImportDir = dir
		}

		logs, err := logging.Open(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Verbose:    cfg.Log.Verbose,
			Compress:   true,
		})
		if err != nil {
			return err
		}
		defer logs.Close()

		hub := realtime.NewHub(logs.Logger("hub"))
		defer hub.Close()

		database, err := db.OpenWithOptions(cfg.DBPath(), db.Options{Publisher: hub})
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return err
		}

		secret, err := sessionSecret(cfg)
		if err != nil {
			return err
		}
		ttl, _ := cfg.Session.TTL()
		issuer, err := session.NewIssuer(secret, ttl)
		if err != nil {
			return err
		}

		rtConfig := realtime.DefaultConfig()
		rtConfig.Logger = logs.Logger("realtime")
		rt := realtime.NewServer(hub, rtConfig)

		devLogin, err := cfg.Server.DevLoginEnabled()
		if err != nil {
			return err
		}
		apiServer := api.NewServer(database, issuer, rt, &api.Config{
			MaxLimit: cfg.Server.MaxLimit,
			DevLogin: devLogin,
			Logger:   logs.Logger("api"),
		})

		d, err := daemon.New(apiServer.Handler(), database, &daemon.Config{
			Addr:      cfg.Server.Addr,
			ImportDir: cfg.ImportDir,
			Logger:    logs.Logger("daemon"),
		})
		if err != nil {
			return err
		}
		d.OnShutdown(rt.Close)

		if v.ConfigFileUsed() != "" {
			configLog := logs.Logger("config")
			config.Watch(v, func(next *config.Config) {
				apiServer.SetMaxLimit(next.Server.MaxLimit)
				logs.SetVerbose(next.Log.Verbose)
				configLog.Printf("Reloaded: max_limit=%d verbose=%t", next.Server.MaxLimit, next.Log.Verbose)
			}, func(err error) {
				configLog.Printf("Warning: %v", err)
			})
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		go func() {
			select {
			case <-d.Ready():
				if addr := d.Addr(); addr != nil {
					fmt.Printf("%s reel server listening on http://%s\n", ui.RenderAccent("▶"), addr)
					fmt.Printf("  database: %s\n", cfg.DBPath())
					if devLogin {
						fmt.Printf("  %s development login enabled (server.dev_login)\n", ui.RenderWarn("!"))
					}
					if cfg.ImportDir != "" {
						fmt.Printf("  inbox:    %s\n", cfg.ImportDir)
					}
					fmt.Println("\nPress Ctrl+C to stop...")
				}
			case <-ctx.Done():
			}
		}()

		if err := d.Start(ctx); err != nil {
			return err
		}
		fmt.Println(ui.RenderPass("✓") + " Server stopped")
		return nil
	},
}

// sessionSecret returns the configured secret, or one generated on first
// start and kept in the data directory.
func sessionSecret(c *config.Config) (string, error) {
	if c.Session.Secret != "" {
		return c.Session.Secret, nil
	}

	path := filepath.Join(c.DataDir, "session.secret")
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read session secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to write session secret: %w", err)
	}
	return secret, nil
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("import-dir", "", "watch this directory for *.jsonl backups (overrides import_dir)")
	rootCmd.AddCommand(serveCmd)
}
