// Package bot bridges chat-platform interactions (mentions, buttons,
// modal forms) to the change-request services.
package bot

import (
	"context"
	"time"
)

// EventKind classifies an inbound event.
type EventKind int

// Inbound event kinds.
const (
	EventMessage EventKind = iota // plain message (mirroring candidate)
	EventMention                  // the bot was @mentioned
	EventButton                   // a button with a custom ID was pressed
	EventModal                    // a modal form was submitted
)

// InboundEvent is a platform-neutral interaction event. Button and modal
// events carry a CustomID; modal events also carry the submitted field
// values. Ref is an opaque platform handle the adapter needs to respond
// to the interaction (deferred replies, modal opens).
type InboundEvent struct {
	Kind        EventKind
	Platform    string
	GuildID     string
	ChannelID   string
	ParentID    string // forum/parent channel for thread messages
	ThreadTitle string // title of the thread the event happened in
	MessageID   string
	UserID      string
	UserName    string
	RoleIDs     []string // roles held by the acting user
	Text        string
	CustomID    string
	Values      map[string]string
	Timestamp   time.Time
	Ref         interface{}
}

// HasRole reports whether the acting user holds the given role. An empty
// role ID gates nothing.
func (e InboundEvent) HasRole(roleID string) bool {
	if roleID == "" {
		return true
	}
	for _, r := range e.RoleIDs {
		if r == roleID {
			return true
		}
	}
	return false
}

// OutboundMessage is a message to post to a channel or thread.
type OutboundMessage struct {
	ChannelID string
	Text      string
	Embed     *Embed
	Buttons   []Button
}

// SentRef identifies a delivered message, and the thread created for it
// when the destination was a forum.
type SentRef struct {
	ChannelID string
	MessageID string
	ThreadID  string
}

// Embed is a structured summary block.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// EmbedField is one key-value pair in an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Button styles, mapped to each platform's nearest equivalent.
const (
	StylePrimary   = "primary"
	StyleSecondary = "secondary"
	StyleSuccess   = "success"
	StyleDanger    = "danger"
	StyleLink      = "link"
)

// Button is one actionable component under a message.
type Button struct {
	CustomID string
	Label    string
	Style    string
	URL      string // link buttons only
}

// Modal is a form shown to a user in response to an interaction.
type Modal struct {
	CustomID string
	Title    string
	Fields   []ModalField
}

// ModalField is one input inside a modal.
type ModalField struct {
	ID          string
	Label       string
	Placeholder string
	Value       string
	Paragraph   bool
	Required    bool
}

// Adapter is the contract platform integrations implement. The router is
// written against this interface, so the interaction flows are shared by
// the Discord and Slack implementations.
type Adapter interface {
	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Listen returns the inbound event channel. The channel is closed
	// when the context is cancelled or the adapter is closed. Listen
	// must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundEvent, error)

	// Send posts a message to a channel or thread.
	Send(ctx context.Context, msg OutboundMessage) (SentRef, error)

	// CreateForumPost creates a thread in a forum channel with an
	// initial message. Falls back to a plain message when the channel
	// is not a forum.
	CreateForumPost(ctx context.Context, channelID, title string, msg OutboundMessage) (SentRef, error)

	// Pin pins a message in its channel.
	Pin(ctx context.Context, channelID, messageID string) error

	// Reply responds to the interaction that produced the event.
	// Ephemeral replies are visible only to the acting user where the
	// platform supports it.
	Reply(ctx context.Context, ev InboundEvent, text string, ephemeral bool) error

	// OpenModal shows a modal form in response to a button event.
	OpenModal(ctx context.Context, ev InboundEvent, m Modal) error

	// UpdateMessage edits the text of a previously sent message.
	UpdateMessage(ctx context.Context, channelID, messageID, text string) error

	// Close gracefully shuts down the connection.
	Close() error
}

// BotUserIDer is an optional interface adapters implement to expose the
// bot's own user ID, enabling self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
