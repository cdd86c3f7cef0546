// Package discord implements the bot Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/uhcops/changebot/internal/bot"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// threadAutoArchiveMinutes is the auto-archive window for created threads.
	threadAutoArchiveMinutes = 10080 // 7 days
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, msgData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessagePin(channelID, messageID, options...)
}
func (r *realSession) ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, msgData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return r.s.ForumThreadStartComplex(channelID, threadData, msgData, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements bot.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess           session
	botToken       string
	botUserID      string
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan bot.InboundEvent
	listenCtx      context.Context
	cancelFunc     context.CancelFunc
	removeHandlers []func()
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		inbound:     make(chan bot.InboundEvent, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events from Discord. Registers
// message and interaction handlers on the Gateway session. Must be called
// after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundEvent, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.listenCtx = listenCtx
	a.cancelFunc = cancel
	a.mu.Unlock()

	rmMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	rmInt := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})
	a.mu.Lock()
	a.removeHandlers = append(a.removeHandlers, rmMsg, rmInt)
	a.mu.Unlock()

	return a.inbound, nil
}

// Send delivers a message to a Discord channel or thread.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) (bot.SentRef, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return bot.SentRef{}, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	if msg.ChannelID == "" {
		return bot.SentRef{}, fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return bot.SentRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return bot.SentRef{ChannelID: sent.ChannelID, MessageID: sent.ID}, nil
}

// CreateForumPost starts a thread in a forum channel with an initial
// message. If the channel is not a forum the message is sent plainly and
// the channel itself serves as the thread.
func (a *Adapter) CreateForumPost(ctx context.Context, channelID, title string, msg bot.OutboundMessage) (bot.SentRef, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return bot.SentRef{}, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	if ch, err := a.sess.Channel(channelID); err == nil && ch.Type != discordgo.ChannelTypeGuildForum {
		msg.ChannelID = channelID
		ref, err := a.Send(ctx, msg)
		if err != nil {
			return bot.SentRef{}, err
		}
		ref.ThreadID = channelID
		return ref, nil
	}

	data := buildMessageSend(msg)
	var thread *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		thread, apiErr = a.sess.ForumThreadStartComplex(channelID, &discordgo.ThreadStart{
			Name:                title,
			AutoArchiveDuration: threadAutoArchiveMinutes,
		}, data)
		return apiErr
	})
	if err != nil {
		return bot.SentRef{}, fmt.Errorf("discord: create forum post: %w", err)
	}
	// A forum thread's starter message shares the thread's ID.
	return bot.SentRef{ChannelID: channelID, MessageID: thread.ID, ThreadID: thread.ID}, nil
}

// Pin pins a message in its channel.
func (a *Adapter) Pin(ctx context.Context, channelID, messageID string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessagePin(channelID, messageID)
	})
	if err != nil {
		return fmt.Errorf("discord: pin message: %w", err)
	}
	return nil
}

// Reply responds to the interaction carried by the event. Events without
// an interaction handle (mentions, plain messages) fall back to a channel
// message.
func (a *Adapter) Reply(ctx context.Context, ev bot.InboundEvent, text string, ephemeral bool) error {
	ic, ok := ev.Ref.(*discordgo.Interaction)
	if !ok {
		_, err := a.Send(ctx, bot.OutboundMessage{ChannelID: ev.ChannelID, Text: text})
		return err
	}

	data := &discordgo.InteractionResponseData{Content: text}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := a.sess.InteractionRespond(ic, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("discord: interaction reply: %w", err)
	}
	return nil
}

// OpenModal shows a modal form in response to a button interaction.
func (a *Adapter) OpenModal(ctx context.Context, ev bot.InboundEvent, m bot.Modal) error {
	ic, ok := ev.Ref.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("discord: event carries no interaction to open a modal from")
	}

	components := make([]discordgo.MessageComponent, 0, len(m.Fields))
	for _, f := range m.Fields {
		style := discordgo.TextInputShort
		if f.Paragraph {
			style = discordgo.TextInputParagraph
		}
		components = append(components, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    f.ID,
					Label:       f.Label,
					Style:       style,
					Placeholder: f.Placeholder,
					Value:       f.Value,
					Required:    f.Required,
				},
			},
		})
	}

	err := a.sess.InteractionRespond(ic, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   m.CustomID,
			Title:      m.Title,
			Components: components,
		},
	})
	if err != nil {
		return fmt.Errorf("discord: open modal: %w", err)
	}
	return nil
}

// UpdateMessage edits the text of a previously sent message.
func (a *Adapter) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEdit(channelID, messageID, text)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	for _, rm := range a.removeHandlers {
		rm()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// handleMessage converts a Discord message event to an InboundEvent.
// Messages that @mention the bot become EventMention, everything else
// EventMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID {
		return
	}

	kind := bot.EventMessage
	for _, u := range m.Mentions {
		if u.ID == botID {
			kind = bot.EventMention
			break
		}
	}

	// Threads are channels in Discord — resolve the parent and title from
	// the state cache when the message was sent inside one.
	parentID, title := "", ""
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		parentID = ch.ParentID
		title = ch.Name
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	a.deliver(bot.InboundEvent{
		Kind:        kind,
		Platform:    "discord",
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		ParentID:    parentID,
		ThreadTitle: title,
		MessageID:   m.ID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		RoleIDs:     roles,
		Text:        m.Content,
		Timestamp:   ts,
	})
}

// deliver hands an event to the Listen channel, dropping it once the
// listen context is cancelled so a gateway handler can never block on a
// reader that has gone away.
func (a *Adapter) deliver(ev bot.InboundEvent) {
	a.mu.Lock()
	ctx := a.listenCtx
	a.mu.Unlock()
	if ctx == nil {
		return // Listen was never called
	}
	select {
	case a.inbound <- ev:
	case <-ctx.Done():
	}
}

// handleInteraction converts button presses and modal submissions to
// InboundEvents carrying the interaction handle for replies.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	ev := bot.InboundEvent{
		Platform:  "discord",
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Timestamp: time.Now(),
		Ref:       i.Interaction,
	}

	if i.Member != nil && i.Member.User != nil {
		ev.UserID = i.Member.User.ID
		ev.UserName = i.Member.User.Username
		ev.RoleIDs = i.Member.Roles
	} else if i.User != nil {
		ev.UserID = i.User.ID
		ev.UserName = i.User.Username
	}

	if ch, err := a.sess.Channel(i.ChannelID); err == nil && ch.IsThread() {
		ev.ParentID = ch.ParentID
		ev.ThreadTitle = ch.Name
	}

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		ev.Kind = bot.EventButton
		ev.CustomID = i.MessageComponentData().CustomID
		if i.Message != nil {
			ev.MessageID = i.Message.ID
			ev.Text = i.Message.Content
		}
	case discordgo.InteractionModalSubmit:
		ev.Kind = bot.EventModal
		data := i.ModalSubmitData()
		ev.CustomID = data.CustomID
		ev.Values = modalValues(data)
	default:
		return
	}

	a.deliver(ev)
}

// modalValues flattens a modal submission's text inputs to field ID →
// submitted value.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, comp := range data.Components {
		row, ok := comp.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, c := range row.Components {
			if ti, ok := c.(*discordgo.TextInput); ok {
				values[ti.CustomID] = ti.Value
			}
		}
	}
	return values
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg bot.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.Embed != nil {
		data.Embeds = append(data.Embeds, toEmbed(msg.Embed))
	}
	if len(msg.Buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons {
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID,
				URL:      b.URL,
			})
		}
		data.Components = append(data.Components, row)
	}
	return data
}

// toEmbed converts a bot.Embed to a Discord embed.
func toEmbed(e *bot.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	return embed
}

// buttonStyle maps the neutral style names to Discord's button styles.
func buttonStyle(style string) discordgo.ButtonStyle {
	switch style {
	case bot.StylePrimary:
		return discordgo.PrimaryButton
	case bot.StyleSuccess:
		return discordgo.SuccessButton
	case bot.StyleDanger:
		return discordgo.DangerButton
	case bot.StyleLink:
		return discordgo.LinkButton
	default:
		return discordgo.SecondaryButton
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d) — retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
