package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/ui"
	"github.com/reelroom/reel/internal/watchlist"
)

var watchlistCmd = &cobra.Command{
	Use:     "watchlist",
	GroupID: "live",
	Short:   "Your watchlist",
}

// withWatchlist opens the logged in user's watchlist and runs fn.
func withWatchlist(ctx context.Context, fn func(w *watchlist.Watchlist) error) error {
	r, err := dial(true)
	if err != nil {
		return err
	}
	defer r.close()

	syncer, err := r.syncer(livesync.Unbounded, nil)
	if err != nil {
		return err
	}
	w, err := watchlist.Open(ctx, syncer, r.sess)
	if err != nil {
		return err
	}
	defer w.Close()

	return fn(w)
}

func parseMovieID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid movie id %q", arg)
	}
	return id, nil
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your watchlist, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWatchlist(cmd.Context(), func(w *watchlist.Watchlist) error {
			entries := w.List()
			if format() != ui.FormatText {
				return ui.Encode(os.Stdout, format(), entries)
			}
			if len(entries) == 0 {
				fmt.Println(ui.RenderMuted("Your watchlist is empty."))
				return nil
			}
			for _, e := range entries {
				fmt.Println(ui.WatchlistLine(e.MovieID, e.Title, e.AddedAt))
			}
			fmt.Printf("\n%s movies\n", ui.Count(len(entries)))
			return nil
		})
	},
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add <movie-id> <title...>",
	Short: "Add a movie to your watchlist",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		movieID, err := parseMovieID(args[0])
		if err != nil {
			return err
		}
		poster, _ := cmd.Flags().GetString("poster")
		title := strings.Join(args[1:], " ")

		return withWatchlist(cmd.Context(), func(w *watchlist.Watchlist) error {
			if _, err := w.Add(cmd.Context(), movieID, title, poster); err != nil {
				return err
			}
			fmt.Printf("%s Added %s to your watchlist\n", ui.RenderPass("✓"), title)
			return nil
		})
	},
}

var watchlistRemoveCmd = &cobra.Command{
	Use:   "remove <movie-id>",
	Short: "Remove a movie from your watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		movieID, err := parseMovieID(args[0])
		if err != nil {
			return err
		}
		return withWatchlist(cmd.Context(), func(w *watchlist.Watchlist) error {
			if err := w.Remove(cmd.Context(), movieID); err != nil {
				return err
			}
			fmt.Printf("%s Removed movie %d from your watchlist\n", ui.RenderPass("✓"), movieID)
			return nil
		})
	},
}

func init() {
	watchlistAddCmd.Flags().String("poster", "", "poster image URL")

	watchlistCmd.AddCommand(watchlistListCmd)
	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistRemoveCmd)
	rootCmd.AddCommand(watchlistCmd)
}
