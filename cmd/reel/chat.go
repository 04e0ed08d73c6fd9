package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/config"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/ui"
)

var chatKey = schema.FilterKey{Table: schema.TableCommunityMessages}

var chatCmd = &cobra.Command{
	Use:     "chat",
	GroupID: "live",
	Short:   "Community chat",
	Long: `Read and write the community chat.

Messages are General, Movie Recommendation (with a movie title) or Feedback.
'reel chat tail' shows the latest chat.limit messages and follows new ones.`,
}

var chatTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the chat and follow new messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noFollow, _ := cmd.Flags().GetBool("no-follow")
		limit, err := config.ParseLimit(cfg.Chat.Limit)
		if err != nil {
			return err
		}

		r, err := dial(false)
		if err != nil {
			return err
		}
		defer r.close()

		follow := !noFollow && format() == ui.FormatText
		return tail(cmd.Context(), r, chatKey, limit, ui.ChatLine, follow)
	},
}

var chatPostCmd = &cobra.Command{
	Use:   "post [text...]",
	Short: "Post a chat message",
	Long: `Post a chat message. Without text on a terminal, reel asks for the message
type, movie title and text interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		movie, _ := cmd.Flags().GetString("movie")
		in := ui.MessageInput{Type: typ, MovieTitle: movie, Content: strings.Join(args, " ")}

		if in.Content == "" {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("message text is required")
			}
			var err error
			if in, err = ui.PromptMessage(in); err != nil {
				return err
			}
		}
		if in.Type == "" {
			in.Type = schema.MessageGeneral
		}
		if movie != "" && in.Type == schema.MessageGeneral && typ == "" {
			in.Type = schema.MessageRecommendation
		}

		return withChat(cmd.Context(), func(h *livesync.Handle) error {
			rec, err := h.RequestCreate(cmd.Context(), in.Fields())
			if err != nil {
				return err
			}
			fmt.Printf("%s Posted %s\n", ui.RenderPass("✓"), ui.RenderMuted(rec.ID))
			return nil
		})
	},
}

var chatEditCmd = &cobra.Command{
	Use:   "edit <message-id> <text...>",
	Short: "Edit one of your messages",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := schema.Payload{"content": strings.Join(args[1:], " ")}
		if movie, _ := cmd.Flags().GetString("movie"); movie != "" {
			fields["movie_title"] = movie
		}
		return withChat(cmd.Context(), func(h *livesync.Handle) error {
			if err := h.RequestUpdate(cmd.Context(), args[0], fields); err != nil {
				return err
			}
			fmt.Printf("%s Edited %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChat(cmd.Context(), func(h *livesync.Handle) error {
			if err := h.RequestDelete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

// withChat runs fn against an open chat collection as the logged in user.
func withChat(ctx context.Context, fn func(h *livesync.Handle) error) error {
	limit, err := config.ParseLimit(cfg.Chat.Limit)
	if err != nil {
		return err
	}
	return withCollection(ctx, chatKey, limit, fn)
}

// withCollection opens key as the logged in user and runs fn.
func withCollection(ctx context.Context, key schema.FilterKey, limit int, fn func(h *livesync.Handle) error) error {
	r, err := dial(true)
	if err != nil {
		return err
	}
	defer r.close()

	syncer, err := r.syncer(limit, nil)
	if err != nil {
		return err
	}
	h, err := syncer.Open(ctx, key)
	if err != nil {
		return err
	}
	defer h.Close()

	return fn(h)
}

func init() {
	chatTailCmd.Flags().Bool("no-follow", false, "print the current messages and exit")
	chatPostCmd.Flags().String("type", "", "message type (general|recommendation|feedback)")
	chatPostCmd.Flags().String("movie", "", "movie title for a recommendation")
	chatEditCmd.Flags().String("movie", "", "new movie title")

	chatCmd.AddCommand(chatTailCmd)
	chatCmd.AddCommand(chatPostCmd)
	chatCmd.AddCommand(chatEditCmd)
	chatCmd.AddCommand(chatDeleteCmd)
	rootCmd.AddCommand(chatCmd)
}
