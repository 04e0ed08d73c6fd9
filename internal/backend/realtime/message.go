package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/reelroom/reel/internal/backend/schema"
)

// MessageType defines the type of a realtime wire message.
type MessageType string

const (
	// MessageTypeSubscribed acknowledges that the subscription exists.
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeChange carries one row change.
	MessageTypeChange MessageType = "change"
)

// Message is the JSON frame sent from server to client.
type Message struct {
	Type         MessageType `json:"type"`
	Subscription string      `json:"subscription,omitempty"`

	Event           schema.ChangeType `json:"event,omitempty"`
	Table           string            `json:"table,omitempty"`
	Record          *schema.Record    `json:"record,omitempty"`
	CommitTimestamp string            `json:"commit_timestamp,omitempty"`
}

func changeMessage(c schema.Change) Message {
	rec := c.Record
	return Message{
		Type:            MessageTypeChange,
		Event:           c.Type,
		Table:           c.Table,
		Record:          &rec,
		CommitTimestamp: schema.FormatTime(c.CommitTime),
	}
}

// Change converts a change message back to a schema.Change.
func (m Message) Change() (schema.Change, error) {
	if m.Type != MessageTypeChange {
		return schema.Change{}, fmt.Errorf("not a change message: %q", m.Type)
	}
	if !m.Event.Valid() {
		return schema.Change{}, fmt.Errorf("unknown event %q", m.Event)
	}
	if m.Record == nil {
		return schema.Change{}, fmt.Errorf("change message without record")
	}

	c := schema.Change{
		Type:   m.Event,
		Table:  m.Table,
		Record: *m.Record,
	}
	if m.CommitTimestamp != "" {
		t, err := schema.ParseTime(m.CommitTimestamp)
		if err != nil {
			return schema.Change{}, err
		}
		c.CommitTime = t
	}
	return c, nil
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	return m, nil
}
