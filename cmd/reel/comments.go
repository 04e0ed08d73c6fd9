package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/config"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/ui"
)

// commentsKey selects the comments of one movie.
func commentsKey(arg string) (schema.FilterKey, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return schema.FilterKey{}, fmt.Errorf("invalid movie id %q", arg)
	}
	return schema.Where(schema.TableMovieComments, "movie_id", id), nil
}

var commentsCmd = &cobra.Command{
	Use:     "comments",
	GroupID: "live",
	Short:   "Per-movie comments",
}

var commentsTailCmd = &cobra.Command{
	Use:   "tail <movie-id>",
	Short: "Show a movie's comments and follow new ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := commentsKey(args[0])
		if err != nil {
			return err
		}
		limit, err := config.ParseLimit(cfg.Comments.Limit)
		if err != nil {
			return err
		}
		noFollow, _ := cmd.Flags().GetBool("no-follow")

		r, err := dial(false)
		if err != nil {
			return err
		}
		defer r.close()

		follow := !noFollow && format() == ui.FormatText
		return tail(cmd.Context(), r, key, limit, ui.CommentLine, follow)
	},
}

var commentsPostCmd = &cobra.Command{
	Use:   "post <movie-id> <text...>",
	Short: "Comment on a movie",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := commentsKey(args[0])
		if err != nil {
			return err
		}
		limit, err := config.ParseLimit(cfg.Comments.Limit)
		if err != nil {
			return err
		}
		return withCollection(cmd.Context(), key, limit, func(h *livesync.Handle) error {
			// movie_id comes from the collection's filter.
			rec, err := h.RequestCreate(cmd.Context(), schema.Payload{"content": strings.Join(args[1:], " ")})
			if err != nil {
				return err
			}
			fmt.Printf("%s Commented %s\n", ui.RenderPass("✓"), ui.RenderMuted(rec.ID))
			return nil
		})
	},
}

var commentsDeleteCmd = &cobra.Command{
	Use:   "delete <movie-id> <comment-id>",
	Short: "Delete one of your comments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := commentsKey(args[0])
		if err != nil {
			return err
		}
		limit, err := config.ParseLimit(cfg.Comments.Limit)
		if err != nil {
			return err
		}
		return withCollection(cmd.Context(), key, limit, func(h *livesync.Handle) error {
			if err := h.RequestDelete(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[1])
			return nil
		})
	},
}

func init() {
	commentsTailCmd.Flags().Bool("no-follow", false, "print the current comments and exit")

	commentsCmd.AddCommand(commentsTailCmd)
	commentsCmd.AddCommand(commentsPostCmd)
	commentsCmd.AddCommand(commentsDeleteCmd)
	rootCmd.AddCommand(commentsCmd)
}
