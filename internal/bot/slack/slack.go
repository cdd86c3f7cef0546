// Package slack implements the bot Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/uhcops/changebot/internal/bot"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slackapi.MsgOption) (string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	AddPin(channelID string, item slackapi.ItemRef) error
	OpenView(triggerID string, view slackapi.ModalViewRequest) (*slackapi.ViewResponse, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bot.Adapter for Slack Socket Mode. Slack has no
// forum channels, so "forum posts" are rendered as channel messages and
// their reply thread stands in for the forum thread.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan bot.InboundEvent
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	a := &Adapter{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan bot.InboundEvent, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}
	return a, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundEvent, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send delivers a message to Slack. Embeds become attachments, buttons a
// Block Kit actions block.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) (bot.SentRef, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return bot.SentRef{}, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	if msg.ChannelID == "" {
		return bot.SentRef{}, fmt.Errorf("slack: no channel specified")
	}

	channelID, _ := splitChannelKey(msg.ChannelID)
	options := buildMessageOptions(msg)
	var channel, timestamp string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		channel, timestamp, postErr = a.client.PostMessage(channelID, options...)
		return postErr
	})
	if err != nil {
		return bot.SentRef{}, fmt.Errorf("slack: post message: %w", err)
	}
	return bot.SentRef{ChannelID: channel, MessageID: timestamp}, nil
}

// CreateForumPost posts the message to the destination channel; the
// message's reply thread (keyed by its timestamp) acts as the forum
// thread. The title is prepended as a bold heading.
func (a *Adapter) CreateForumPost(ctx context.Context, channelID, title string, msg bot.OutboundMessage) (bot.SentRef, error) {
	msg.ChannelID = channelID
	if title != "" {
		msg.Text = "*" + title + "*\n" + msg.Text
	}
	ref, err := a.Send(ctx, msg)
	if err != nil {
		return bot.SentRef{}, err
	}
	ref.ThreadID = channelKey(ref.ChannelID, ref.MessageID)
	return ref, nil
}

// Pin pins a message in its channel.
func (a *Adapter) Pin(ctx context.Context, channelID, messageID string) error {
	ch, _ := splitChannelKey(channelID)
	err := retryOnRateLimit(ctx, func() error {
		return a.client.AddPin(ch, slackapi.ItemRef{Channel: ch, Timestamp: messageID})
	})
	if err != nil {
		return fmt.Errorf("slack: add pin: %w", err)
	}
	return nil
}

// Reply answers the interaction behind the event. Ephemeral replies use
// postEphemeral; everything else is a normal channel message.
func (a *Adapter) Reply(ctx context.Context, ev bot.InboundEvent, text string, ephemeral bool) error {
	if ephemeral && ev.UserID != "" {
		channelID, threadTS := splitChannelKey(ev.ChannelID)
		opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
		if threadTS != "" {
			opts = append(opts, slackapi.MsgOptionTS(threadTS))
		}
		err := retryOnRateLimit(ctx, func() error {
			_, postErr := a.client.PostEphemeral(channelID, ev.UserID, opts...)
			return postErr
		})
		if err != nil {
			return fmt.Errorf("slack: post ephemeral: %w", err)
		}
		return nil
	}
	_, err := a.Send(ctx, bot.OutboundMessage{ChannelID: ev.ChannelID, Text: text})
	return err
}

// OpenModal shows a modal view in response to an interaction.
func (a *Adapter) OpenModal(ctx context.Context, ev bot.InboundEvent, m bot.Modal) error {
	cb, ok := ev.Ref.(*slackapi.InteractionCallback)
	if !ok || cb.TriggerID == "" {
		return fmt.Errorf("slack: event carries no trigger to open a modal from")
	}

	blocks := make([]slackapi.Block, 0, len(m.Fields))
	for _, f := range m.Fields {
		input := slackapi.NewPlainTextInputBlockElement(
			slackapi.NewTextBlockObject(slackapi.PlainTextType, orSpace(f.Placeholder), false, false), f.ID)
		input.Multiline = f.Paragraph
		if f.Value != "" {
			input.InitialValue = f.Value
		}
		block := slackapi.NewInputBlock(f.ID,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, f.Label, false, false), nil, input)
		block.Optional = !f.Required
		blocks = append(blocks, block)
	}

	view := slackapi.ModalViewRequest{
		Type:       slackapi.VTModal,
		CallbackID: m.CustomID,
		Title:      slackapi.NewTextBlockObject(slackapi.PlainTextType, m.Title, false, false),
		Submit:     slackapi.NewTextBlockObject(slackapi.PlainTextType, "Submit", false, false),
		Close:      slackapi.NewTextBlockObject(slackapi.PlainTextType, "Cancel", false, false),
		Blocks:     slackapi.Blocks{BlockSet: blocks},
		// Round-trips the originating channel to the view_submission event.
		PrivateMetadata: ev.ChannelID,
	}
	if _, err := a.client.OpenView(cb.TriggerID, view); err != nil {
		return fmt.Errorf("slack: open view: %w", err)
	}
	return nil
}

// UpdateMessage edits the text of a previously sent message.
func (a *Adapter) UpdateMessage(ctx context.Context, channelID, messageID, text string) error {
	ch, _ := splitChannelKey(channelID)
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updErr := a.client.UpdateMessage(ch, messageID, slackapi.MsgOptionText(text, false))
		return updErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
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
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v — reconnecting in %v",
			attempt+1, a.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", a.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to InboundEvents.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleInteraction(&callback)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")
	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			a.handleMessage(ev)
		case *slackevents.AppMentionEvent:
			a.handleAppMention(ev)
		}
	}
}

// handleMessage converts a Slack message event to an InboundEvent.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == a.botUserID {
		return
	}
	// Filter bot messages and message subtypes (edits, deletes, etc.).
	if ev.BotID != "" || ev.SubType != "" {
		return
	}

	a.inbound <- bot.InboundEvent{
		Kind:      bot.EventMessage,
		Platform:  "slack",
		ChannelID: channelKey(ev.Channel, ev.ThreadTimeStamp),
		ParentID:  ev.Channel,
		MessageID: ev.TimeStamp,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
}

// handleAppMention converts a Slack @mention event to an InboundEvent.
func (a *Adapter) handleAppMention(ev *slackevents.AppMentionEvent) {
	if ev.User == a.botUserID {
		return
	}

	a.inbound <- bot.InboundEvent{
		Kind:      bot.EventMention,
		Platform:  "slack",
		ChannelID: channelKey(ev.Channel, ev.ThreadTimeStamp),
		ParentID:  ev.Channel,
		MessageID: ev.TimeStamp,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
}

// handleInteraction converts block actions and view submissions to
// InboundEvents.
func (a *Adapter) handleInteraction(cb *slackapi.InteractionCallback) {
	switch cb.Type {
	case slackapi.InteractionTypeBlockActions:
		if len(cb.ActionCallback.BlockActions) == 0 {
			return
		}
		action := cb.ActionCallback.BlockActions[0]
		a.inbound <- bot.InboundEvent{
			Kind:      bot.EventButton,
			Platform:  "slack",
			ChannelID: channelKey(cb.Channel.ID, cb.Message.ThreadTimestamp),
			ParentID:  cb.Channel.ID,
			MessageID: cb.Message.Timestamp,
			UserID:    cb.User.ID,
			UserName:  a.resolveUserName(cb.User.ID),
			Text:      cb.Message.Text,
			CustomID:  action.ActionID,
			Timestamp: time.Now(),
			Ref:       cb,
		}

	case slackapi.InteractionTypeViewSubmission:
		values := make(map[string]string)
		if cb.View.State != nil {
			for blockID, actions := range cb.View.State.Values {
				for _, v := range actions {
					values[blockID] = v.Value
				}
			}
		}
		a.inbound <- bot.InboundEvent{
			Kind:      bot.EventModal,
			Platform:  "slack",
			ChannelID: cb.View.PrivateMetadata,
			UserID:    cb.User.ID,
			UserName:  a.resolveUserName(cb.User.ID),
			CustomID:  cb.View.CallbackID,
			Values:    values,
			Timestamp: time.Now(),
			Ref:       cb,
		}
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// channelKey collapses Slack's channel+thread addressing to one ID: for
// thread replies the thread timestamp is the key, scoped by channel.
func channelKey(channelID, threadTS string) string {
	if threadTS == "" {
		return channelID
	}
	return channelID + ":" + threadTS
}

// splitChannelKey undoes channelKey.
func splitChannelKey(key string) (channelID, threadTS string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg bot.OutboundMessage) []slackapi.MsgOption {
	_, threadTS := splitChannelKey(msg.ChannelID)

	var options []slackapi.MsgOption
	if threadTS != "" {
		options = append(options, slackapi.MsgOptionTS(threadTS))
	}
	if msg.Text != "" {
		options = append(options, slackapi.MsgOptionText(msg.Text, false))
	}
	if msg.Embed != nil {
		options = append(options, slackapi.MsgOptionAttachments(toAttachment(msg.Embed)))
	}
	if len(msg.Buttons) > 0 {
		var elems []slackapi.BlockElement
		for _, b := range msg.Buttons {
			btn := slackapi.NewButtonBlockElement(b.CustomID, b.CustomID,
				slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, false, false))
			switch b.Style {
			case bot.StylePrimary, bot.StyleSuccess:
				btn.Style = slackapi.StylePrimary
			case bot.StyleDanger:
				btn.Style = slackapi.StyleDanger
			}
			if b.URL != "" {
				btn.URL = b.URL
			}
			elems = append(elems, btn)
		}
		blocks := []slackapi.Block{slackapi.NewActionBlock("", elems...)}
		if msg.Text != "" {
			blocks = append([]slackapi.Block{
				slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Text, false, false), nil, nil),
			}, blocks...)
		}
		options = append(options, slackapi.MsgOptionBlocks(blocks...))
	}
	return options
}

// toAttachment converts a bot.Embed to a Slack Attachment.
func toAttachment(e *bot.Embed) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    e.Title,
		Text:     e.Description,
		Footer:   e.Footer,
		Fallback: e.Title,
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Inline,
		})
	}
	return att
}

// orSpace substitutes a single space for empty placeholder text, which
// Slack rejects.
func orSpace(s string) string {
	if s == "" {
		return " "
	}
	return s
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration
// from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
