package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/profiles"
	"github.com/reelroom/reel/internal/session"
	"github.com/reelroom/reel/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login [user-id]",
	GroupID: "account",
	Short:   "Log in to the reel server",
	Long: `Log in as user-id and save the session token in <data_dir>/session.json.

The profile names are shown next to your messages. Without arguments on a
terminal, reel asks for them interactively.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, _ := cmd.Flags().GetString("first")
		last, _ := cmd.Flags().GetString("last")
		p := schema.Profile{FirstName: first, LastName: last}
		if len(args) == 1 {
			p.ID = args[0]
		}

		if p.ID == "" {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("user id is required")
			}
			var err error
			if p, err = ui.PromptProfile(p); err != nil {
				return err
			}
		}
		if err := p.Validate(); err != nil {
			return err
		}

		client := api.NewClient(cfg.Server.URL)
		token, err := client.Login(cmd.Context(), p)
		if err != nil {
			return err
		}
		sess, err := session.Parse(token)
		if err != nil {
			return err
		}
		if err := sess.Save(cfg.SessionPath()); err != nil {
			return err
		}

		name := profiles.DisplayName(p)
		if name == "" {
			name = p.ID
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), name)
		if exp := sess.ExpiresAt(); !exp.IsZero() {
			fmt.Printf("  session expires %s\n", ui.Ago(exp))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := session.Remove(cfg.SessionPath()); err != nil {
			return err
		}
		fmt.Println(ui.RenderPass("✓") + " Logged out")
		return nil
	},
}

// whoami is the output of `reel whoami`.
type whoami struct {
	UserID    string    `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	Server    string    `json:"server" yaml:"server"`
	ExpiresAt time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the logged in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session.Load(cfg.SessionPath())
		if err != nil {
			return err
		}

		names := profiles.NewResolver(api.NewClient(cfg.Server.URL))
		out := whoami{
			UserID:    sess.UserID(),
			Name:      names.Name(cmd.Context(), sess.UserID()),
			Server:    cfg.Server.URL,
			ExpiresAt: sess.ExpiresAt(),
		}

		if format() != ui.FormatText {
			return ui.Encode(os.Stdout, format(), out)
		}

		fmt.Printf("%s (%s)\n", ui.RenderAccent(out.Name), out.UserID)
		fmt.Printf("  server:  %s\n", out.Server)
		switch {
		case out.ExpiresAt.IsZero():
		case sess.Expired():
			fmt.Printf("  session: %s\n", ui.RenderWarn("expired "+ui.Ago(out.ExpiresAt)))
		default:
			fmt.Printf("  session: expires %s\n", ui.Ago(out.ExpiresAt))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().String("first", "", "first name")
	loginCmd.Flags().String("last", "", "last name")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
