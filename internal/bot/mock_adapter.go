package bot

import (
	"context"
	"fmt"
	"sync"
)

// MockReply records one Reply call.
type MockReply struct {
	Text      string
	Ephemeral bool
}

// MockForumPost records one CreateForumPost call.
type MockForumPost struct {
	ChannelID string
	Title     string
	Message   OutboundMessage
}

// MockEdit records one UpdateMessage call.
type MockEdit struct {
	ChannelID string
	MessageID string
	Text      string
}

// MockAdapter implements Adapter for testing. It records every outbound
// call and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan InboundEvent
	sent       []OutboundMessage
	replies    []MockReply
	modals     []Modal
	forumPosts []MockForumPost
	edits      []MockEdit
	pins       [][2]string // channelID, messageID
	botUserID  string
	sendSeq    int

	// FailSend makes Send and CreateForumPost return an error when set.
	FailSend bool
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{inbound: make(chan InboundEvent, 100)}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and assigns it a synthetic message ID.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (SentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend {
		return SentRef{}, fmt.Errorf("mock adapter: send failed")
	}
	m.sendSeq++
	m.sent = append(m.sent, msg)
	return SentRef{
		ChannelID: msg.ChannelID,
		MessageID: fmt.Sprintf("msg-%d", m.sendSeq),
	}, nil
}

// CreateForumPost records the call and returns a synthetic thread ref.
func (m *MockAdapter) CreateForumPost(ctx context.Context, channelID, title string, msg OutboundMessage) (SentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSend {
		return SentRef{}, fmt.Errorf("mock adapter: create forum post failed")
	}
	m.sendSeq++
	m.forumPosts = append(m.forumPosts, MockForumPost{ChannelID: channelID, Title: title, Message: msg})
	return SentRef{
		ChannelID: channelID,
		MessageID: fmt.Sprintf("msg-%d", m.sendSeq),
		ThreadID:  fmt.Sprintf("thread-%d", m.sendSeq),
	}, nil
}

// Pin records the pin request.
func (m *MockAdapter) Pin(ctx context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins = append(m.pins, [2]string{channelID, messageID})
	return nil
}

// Reply records the interaction response.
func (m *MockAdapter) Reply(ctx context.Context, ev InboundEvent, text string, ephemeral bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, MockReply{Text: text, Ephemeral: ephemeral})
	return nil
}

// OpenModal records the opened modal.
func (m *MockAdapter) OpenModal(ctx context.Context, ev InboundEvent, modal Modal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modals = append(m.modals, modal)
	return nil
}

// UpdateMessage records the edit.
func (m *MockAdapter) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, MockEdit{ChannelID: channelID, MessageID: messageID, Text: text})
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// SimulateInbound delivers an inbound event to the listen channel.
func (m *MockAdapter) SimulateInbound(ev InboundEvent) {
	m.inbound <- ev
}

// Sent returns a copy of all recorded Send calls.
func (m *MockAdapter) Sent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Replies returns a copy of all recorded Reply calls.
func (m *MockAdapter) Replies() []MockReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockReply, len(m.replies))
	copy(out, m.replies)
	return out
}

// Modals returns a copy of all recorded OpenModal calls.
func (m *MockAdapter) Modals() []Modal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Modal, len(m.modals))
	copy(out, m.modals)
	return out
}

// ForumPosts returns a copy of all recorded CreateForumPost calls.
func (m *MockAdapter) ForumPosts() []MockForumPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockForumPost, len(m.forumPosts))
	copy(out, m.forumPosts)
	return out
}

// Edits returns a copy of all recorded UpdateMessage calls.
func (m *MockAdapter) Edits() []MockEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockEdit, len(m.edits))
	copy(out, m.edits)
	return out
}

// Pins returns a copy of all recorded Pin calls.
func (m *MockAdapter) Pins() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]string, len(m.pins))
	copy(out, m.pins)
	return out
}
