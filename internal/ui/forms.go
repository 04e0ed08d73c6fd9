package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/reelroom/reel/internal/backend/schema"
)

// MessageInput holds the fields of a new chat message.
type MessageInput struct {
	Type       string
	MovieTitle string
	Content    string
}

// Fields returns the insert payload for the message.
func (m MessageInput) Fields() schema.Payload {
	p := schema.Payload{
		"content":      m.Content,
		"message_type": m.Type,
	}
	if m.Type == schema.MessageRecommendation && m.MovieTitle != "" {
		p["movie_title"] = m.MovieTitle
	}
	return p
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// PromptMessage asks for a chat message interactively, starting from in.
func PromptMessage(in MessageInput) (MessageInput, error) {
	if in.Type == "" {
		in.Type = schema.MessageGeneral
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Message type").
				Options(
					huh.NewOption(schema.MessageTypeLabel(schema.MessageGeneral), schema.MessageGeneral),
					huh.NewOption(schema.MessageTypeLabel(schema.MessageRecommendation), schema.MessageRecommendation),
					huh.NewOption(schema.MessageTypeLabel(schema.MessageFeedback), schema.MessageFeedback),
				).
				Value(&in.Type),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Movie title").
				CharLimit(300).
				Value(&in.MovieTitle),
		).WithHideFunc(func() bool { return in.Type != schema.MessageRecommendation }),
		huh.NewGroup(
			huh.NewText().
				Title("Message").
				CharLimit(2000).
				Validate(required("message")).
				Value(&in.Content),
		),
	)
	if err := form.Run(); err != nil {
		return MessageInput{}, fmt.Errorf("failed to read message: %w", err)
	}
	return in, nil
}

// PromptProfile asks for the login identity, starting from p.
func PromptProfile(p schema.Profile) (schema.Profile, error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("User id").Validate(required("user id")).Value(&p.ID),
			huh.NewInput().Title("First name").CharLimit(100).Value(&p.FirstName),
			huh.NewInput().Title("Last name").CharLimit(100).Value(&p.LastName),
		),
	)
	if err := form.Run(); err != nil {
		return schema.Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return p, nil
}

// Confirm asks a yes/no question.
func Confirm(title string) (bool, error) {
	var ok bool
	if err := huh.NewConfirm().Title(title).Value(&ok).Run(); err != nil {
		return false, err
	}
	return ok, nil
}
