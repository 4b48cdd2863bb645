// Package slack connects the helpdesk to a Slack workspace over Socket Mode.
//
// The bot answers direct messages, @mentions, every message posted in the
// configured help channel, and follow-ups inside a thread it has already
// answered. Channel questions are answered in a thread under the question so
// the channel itself stays readable.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/channel"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	maxRetries           = 3
	baseBackoff          = 2 * time.Second
	maxBackoff           = 2 * time.Minute
	maxReconnectAttempts = 10

	// maxTrackedThreads bounds the answered-thread set; it is cleared when full.
	maxTrackedThreads = 1000

	channelTypeIM = "im"
)

// api is the subset of the Slack Web API the adapter calls.
type api interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socket is the subset of the Socket Mode client the adapter drives.
type socket interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type socketModeClient struct{ *socketmode.Client }

func (c socketModeClient) EventsChan() chan socketmode.Event { return c.Events }

// Adapter implements channel.Adapter for Slack.
type Adapter struct {
	api         api
	sock        socket
	appToken    string
	botToken    string
	helpChannel string

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	cancel    context.CancelFunc
	names     map[string]string   // user ID -> display name
	answered  map[string]struct{} // channel/thread_ts the bot has replied in

	inbound      chan channel.InboundMessage
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken    string // xapp-... app-level token for Socket Mode
	BotToken    string // xoxb-... bot token
	HelpChannel string // channel whose every message is a question; optional

	// Test seams.
	Client api
	Socket socket
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Adapter{
		api:          opts.Client,
		sock:         opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		helpChannel:  opts.HelpChannel,
		names:        make(map[string]string),
		answered:     make(map[string]struct{}),
		inbound:      make(chan channel.InboundMessage, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and learns the bot's own user ID.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}
	if a.api == nil {
		client := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.api = client
		a.sock = socketModeClient{socketmode.New(client)}
	}

	auth, err := a.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	log.Info("slack: authenticated", "bot", auth.UserID, "team", auth.Team, "help_channel", a.helpChannel)
	return nil
}

// Listen starts the Socket Mode session and returns the question stream.
func (a *Adapter) Listen(ctx context.Context) (<-chan channel.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	ctx, a.cancel = context.WithCancel(ctx)
	go a.runWithReconnect(ctx)
	go a.pumpEvents(ctx)
	return a.inbound, nil
}

// Send posts an answer. Link previews are suppressed because answers often
// carry several portal links.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(msg.Text, false),
		slackapi.MsgOptionDisableLinkUnfurl(),
	}
	if msg.ThreadID != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadID))
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, err := a.api.PostMessage(msg.ChannelID, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	if msg.ThreadID != "" {
		a.markAnswered(msg.ChannelID, msg.ThreadID)
	}
	return nil
}

// Close stops the event pump and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID once connected.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.sock.Run()
		if err == nil || ctx.Err() != nil {
			return
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn("slack: socket mode dropped", "attempt", attempt+1, "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Error("slack: giving up on socket mode", "attempts", a.maxReconnect)
}

func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.sock.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			a.sock.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		if q, ok := a.question(ev.InnerEvent.Data); ok {
			select {
			case a.inbound <- q:
			case <-ctx.Done():
			}
		}
	case socketmode.EventTypeConnected:
		log.Info("slack: socket mode connected")
	case socketmode.EventTypeConnectionError:
		log.Warn("slack: connection error", "data", evt.Data)
	case socketmode.EventTypeDisconnect:
		log.Warn("slack: server requested disconnect")
	}
}

// question turns a Slack event into a helpdesk question, or reports false
// for events the bot should stay out of.
func (a *Adapter) question(data interface{}) (channel.InboundMessage, bool) {
	botID := a.BotUserID()
	switch ev := data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.User == "" || ev.User == botID || ev.BotID != "" {
			return channel.InboundMessage{}, false
		}
		return a.inboundFrom(ev.User, ev.Channel, "", ev.TimeStamp, ev.ThreadTimeStamp, ev.Text), true

	case *slackevents.MessageEvent:
		// Edits, joins and other subtypes are not questions. Mentions arrive
		// again as app_mention events and are answered there.
		if ev.User == "" || ev.User == botID || ev.BotID != "" || ev.SubType != "" {
			return channel.InboundMessage{}, false
		}
		if botID != "" && strings.Contains(ev.Text, "<@"+botID+">") {
			return channel.InboundMessage{}, false
		}
		if !a.listensTo(ev.Channel, ev.ChannelType, ev.ThreadTimeStamp) {
			return channel.InboundMessage{}, false
		}
		return a.inboundFrom(ev.User, ev.Channel, ev.ChannelType, ev.TimeStamp, ev.ThreadTimeStamp, ev.Text), true
	}
	return channel.InboundMessage{}, false
}

func (a *Adapter) listensTo(channelID, channelType, threadTS string) bool {
	if channelType == channelTypeIM {
		return true
	}
	if a.helpChannel != "" && channelID == a.helpChannel {
		return true
	}
	return threadTS != "" && a.hasAnswered(channelID, threadTS)
}

// inboundFrom builds the question. Outside DMs the answer threads under the
// question, or joins the thread it was asked in.
func (a *Adapter) inboundFrom(user, channelID, channelType, ts, threadTS, text string) channel.InboundMessage {
	thread := threadTS
	if thread == "" && channelType != channelTypeIM {
		thread = ts
	}
	return channel.InboundMessage{
		Platform:  "slack",
		ChannelID: channelID,
		ThreadID:  thread,
		MessageID: ts,
		UserID:    user,
		UserName:  a.displayName(user),
		Text:      text,
		Timestamp: parseSlackTimestamp(ts),
	}
}

// displayName resolves and caches a user's name, falling back to the ID.
func (a *Adapter) displayName(userID string) string {
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	name = userID
	if u, err := a.api.GetUserInfo(userID); err == nil {
		switch {
		case u.Profile.DisplayName != "":
			name = u.Profile.DisplayName
		case u.RealName != "":
			name = u.RealName
		}
	} else {
		log.Debug("slack: user lookup failed", "user", userID, "err", err)
	}

	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

func (a *Adapter) markAnswered(channelID, threadTS string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.answered) >= maxTrackedThreads {
		a.answered = make(map[string]struct{})
	}
	a.answered[channelID+"/"+threadTS] = struct{}{}
}

func (a *Adapter) hasAnswered(channelID, threadTS string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.answered[channelID+"/"+threadTS]
	return ok
}

// retryOnRateLimit retries fn while Slack answers rate_limited, waiting the
// RetryAfter Slack asks for.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		var rle *slackapi.RateLimitedError
		if err == nil || !errors.As(err, &rle) || attempt == maxRetries {
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
}

// parseSlackTimestamp converts "1234567890.123456" to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
