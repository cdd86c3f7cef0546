package discord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/uhcops/changebot/internal/bot"
)

// mockSession scripts the discordgo surface the adapter touches.
type mockSession struct {
	channels map[string]*discordgo.Channel
	sent     []*discordgo.MessageSend
	sentTo   []string
	threads  []string // titles of forum threads started
	pins     [][2]string
	edits    [][3]string
	sendErr  error
	msgSeq   int
}

func newMockSession() *mockSession {
	return &mockSession{channels: make(map[string]*discordgo.Channel)}
}

func (m *mockSession) Open() error  { return nil }
func (m *mockSession) Close() error { return nil }
func (m *mockSession) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, ok := m.channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("channel %s not in state", channelID)
}
func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.msgSeq++
	m.sent = append(m.sent, data)
	m.sentTo = append(m.sentTo, channelID)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", m.msgSeq), ChannelID: channelID}, nil
}
func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.edits = append(m.edits, [3]string{channelID, messageID, content})
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}
func (m *mockSession) ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error {
	m.pins = append(m.pins, [2]string{channelID, messageID})
	return nil
}
func (m *mockSession) ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, msgData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.msgSeq++
	m.threads = append(m.threads, threadData.Name)
	return &discordgo.Channel{ID: fmt.Sprintf("th%d", m.msgSeq), ParentID: channelID}, nil
}
func (m *mockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return nil
}
func (m *mockSession) AddHandler(handler interface{}) func() { return func() {} }

func newTestAdapter(t *testing.T, sess *mockSession) *Adapter {
	t.Helper()
	a, err := New(AdapterOpts{Session: sess})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a
}

func TestSend(t *testing.T) {
	sess := newMockSession()
	a := newTestAdapter(t, sess)

	ref, err := a.Send(context.Background(), bot.OutboundMessage{
		ChannelID: "c1",
		Text:      "hello",
		Buttons:   []bot.Button{{CustomID: "cart:add", Label: "Add Item", Style: bot.StylePrimary}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.ChannelID != "c1" || ref.MessageID == "" {
		t.Errorf("ref = %+v", ref)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent = %d", len(sess.sent))
	}
	data := sess.sent[0]
	if data.Content != "hello" {
		t.Errorf("content = %q", data.Content)
	}
	row, ok := data.Components[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 1 {
		t.Fatalf("components = %+v", data.Components)
	}
	btn := row.Components[0].(discordgo.Button)
	if btn.CustomID != "cart:add" || btn.Style != discordgo.PrimaryButton {
		t.Errorf("button = %+v", btn)
	}
}

func TestSend_RequiresChannel(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	if _, err := a.Send(context.Background(), bot.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestCreateForumPost_ForumChannel(t *testing.T) {
	sess := newMockSession()
	sess.channels["forum-1"] = &discordgo.Channel{ID: "forum-1", Type: discordgo.ChannelTypeGuildForum}
	a := newTestAdapter(t, sess)

	ref, err := a.CreateForumPost(context.Background(), "forum-1", "MATERIAL-0001 — Riverside", bot.OutboundMessage{Text: "summary"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.threads) != 1 || sess.threads[0] != "MATERIAL-0001 — Riverside" {
		t.Errorf("threads = %+v", sess.threads)
	}
	// The starter message shares the thread ID.
	if ref.ThreadID == "" || ref.MessageID != ref.ThreadID {
		t.Errorf("ref = %+v", ref)
	}
}

func TestCreateForumPost_PlainChannelFallback(t *testing.T) {
	sess := newMockSession()
	sess.channels["c1"] = &discordgo.Channel{ID: "c1", Type: discordgo.ChannelTypeGuildText}
	a := newTestAdapter(t, sess)

	ref, err := a.CreateForumPost(context.Background(), "c1", "ignored title", bot.OutboundMessage{Text: "summary"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.threads) != 0 {
		t.Errorf("thread started in non-forum channel: %+v", sess.threads)
	}
	if ref.ThreadID != "c1" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestListen_MessageEvents(t *testing.T) {
	sess := newMockSession()
	sess.channels["thread-1"] = &discordgo.Channel{
		ID:       "thread-1",
		ParentID: "forum-src",
		Name:     "Austin, TX - Riverside",
		Type:     discordgo.ChannelTypeGuildPublicThread,
	}
	a := newTestAdapter(t, sess)
	a.SetBotUserID("bot-1")

	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "1176484580243280742",
		ChannelID: "thread-1",
		GuildID:   "g1",
		Content:   "need more drywall <@bot-1>",
		Author:    &discordgo.User{ID: "u1", Username: "alex"},
		Mentions:  []*discordgo.User{{ID: "bot-1"}},
		Member:    &discordgo.Member{Roles: []string{"role-materials"}},
	}})

	select {
	case ev := <-ch:
		if ev.Kind != bot.EventMention {
			t.Errorf("kind = %v", ev.Kind)
		}
		if ev.ParentID != "forum-src" || ev.ThreadTitle != "Austin, TX - Riverside" {
			t.Errorf("thread metadata = %+v", ev)
		}
		if len(ev.RoleIDs) != 1 || ev.RoleIDs[0] != "role-materials" {
			t.Errorf("roles = %+v", ev.RoleIDs)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// The bot's own messages never come back around.
	a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "thread-1", Content: "echo",
		Author: &discordgo.User{ID: "bot-1", Username: "changebot"},
	}})
	select {
	case ev := <-ch:
		t.Errorf("self message delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListen_CancelUnblocksHandlers(t *testing.T) {
	a := newTestAdapter(t, newMockSession())
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := a.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}
	cancel()

	// More events than the inbound buffer holds. Without the listen
	// context these sends would block forever once the buffer fills.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 150; i++ {
			a.handleMessage(&discordgo.MessageCreate{Message: &discordgo.Message{
				ID:        fmt.Sprintf("%d", i),
				ChannelID: "c1",
				Content:   "update",
				Author:    &discordgo.User{ID: "u1", Username: "alex"},
			}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers blocked after cancel")
	}
}

func TestHandleInteraction_Button(t *testing.T) {
	sess := newMockSession()
	a := newTestAdapter(t, sess)
	ch, _ := a.Listen(context.Background())

	a.handleInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "thread-1",
		Member: &discordgo.Member{
			User:  &discordgo.User{ID: "u1", Username: "alex"},
			Roles: []string{"role-office"},
		},
		Message: &discordgo.Message{ID: "banner-1", Content: "**Status:** 🟡 PENDING"},
		Data:    discordgo.MessageComponentInteractionData{CustomID: "status:filled:7"},
	}})

	select {
	case ev := <-ch:
		if ev.Kind != bot.EventButton || ev.CustomID != "status:filled:7" {
			t.Errorf("event = %+v", ev)
		}
		if ev.MessageID != "banner-1" || ev.Text != "**Status:** 🟡 PENDING" {
			t.Errorf("message payload = %+v", ev)
		}
		if ev.Ref == nil {
			t.Error("interaction handle not carried")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestButtonStyle(t *testing.T) {
	tests := []struct {
		in   string
		want discordgo.ButtonStyle
	}{
		{bot.StylePrimary, discordgo.PrimaryButton},
		{bot.StyleSuccess, discordgo.SuccessButton},
		{bot.StyleDanger, discordgo.DangerButton},
		{bot.StyleLink, discordgo.LinkButton},
		{"anything", discordgo.SecondaryButton},
	}
	for _, tt := range tests {
		if got := buttonStyle(tt.in); got != tt.want {
			t.Errorf("buttonStyle(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToEmbed(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := toEmbed(&bot.Embed{
		Title:       "Missing Materials",
		Description: "items",
		Fields:      []bot.EmbedField{{Name: "Reference", Value: "MATERIAL-0007", Inline: true}},
		Footer:      "source: google",
		Timestamp:   now,
	})
	if e.Title != "Missing Materials" || e.Description != "items" {
		t.Errorf("embed = %+v", e)
	}
	if len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Errorf("fields = %+v", e.Fields)
	}
	if e.Footer == nil || e.Footer.Text != "source: google" {
		t.Errorf("footer = %+v", e.Footer)
	}
	if e.Timestamp != "2026-08-01T12:00:00Z" {
		t.Errorf("timestamp = %q", e.Timestamp)
	}
}
