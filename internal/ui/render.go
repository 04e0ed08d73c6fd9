package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Item is the display form of one record, used for json and yaml output.
type Item struct {
	ID        string         `json:"id" yaml:"id"`
	Author    string         `json:"author" yaml:"author"`
	AuthorID  string         `json:"user_id" yaml:"user_id"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Fields    map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// NewItem builds the display form of r.
func NewItem(r schema.Record, author string) Item {
	fields := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		if v != nil {
			fields[k] = v
		}
	}
	return Item{
		ID:        r.ID,
		Author:    author,
		AuthorID:  r.OwnerID,
		CreatedAt: r.CreatedAt,
		Fields:    fields,
	}
}

// ChatLine renders a community chat message:
//
//	Jane Doe · Movie Recommendation: Heat · 3 minutes ago
//	  Best heist movie ever.
func ChatLine(r schema.Record, author string) string {
	var header []string
	header = append(header, nameStyle.Render(author))

	typ := r.String("message_type")
	if typ != "" && typ != schema.MessageGeneral {
		label := schema.MessageTypeLabel(typ)
		if title := r.String("movie_title"); title != "" {
			label += ": " + title
		}
		header = append(header, RenderAccent(label))
	}
	header = append(header, RenderMuted(Ago(r.CreatedAt)))

	return fmt.Sprintf("%s\n  %s", strings.Join(header, " · "), r.String("content"))
}

// CommentLine renders a movie comment on one line.
func CommentLine(r schema.Record, author string) string {
	return fmt.Sprintf("%s %s  %s", nameStyle.Render(author), RenderMuted("("+Ago(r.CreatedAt)+")"), r.String("content"))
}

// WatchlistLine renders a watchlist entry.
func WatchlistLine(movieID int64, title string, added time.Time) string {
	return fmt.Sprintf("%-8d %s %s", movieID, title, RenderMuted("added "+Ago(added)))
}
