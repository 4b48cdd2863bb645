// Package discord connects the helpdesk to Discord over the Gateway.
//
// The bot answers direct messages, every message in the configured help
// channel (and its threads), messages that mention it, and replies to its
// own answers. Each answer is sent as a Discord reply to the question.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/channel"
)

const (
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

// gateway is the subset of *discordgo.Session the adapter uses.
type gateway interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

type sessionGateway struct{ *discordgo.Session }

// Channel reads from the gateway state cache rather than the REST API.
func (g sessionGateway) Channel(channelID string) (*discordgo.Channel, error) {
	return g.State.Channel(channelID)
}

// Adapter implements channel.Adapter for Discord.
type Adapter struct {
	gw          gateway
	botToken    string
	helpChannel string

	mu            sync.Mutex
	botUserID     string
	connected     bool
	closed        bool
	listenCtx     context.Context
	cancel        context.CancelFunc
	removeHandler func()

	inbound     chan channel.InboundMessage
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken    string
	HelpChannel string // channel whose every message is a question; optional

	// Session replaces the real gateway in tests.
	Session gateway
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		gw:          opts.Session,
		botToken:    opts.BotToken,
		helpChannel: opts.HelpChannel,
		inbound:     make(chan channel.InboundMessage, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect opens the Gateway session.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.gw == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.gw = sessionGateway{dg}
	}

	// Ready fires on every reconnect.
	a.gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.SetBotUserID(r.User.ID)
		log.Info("discord: ready", "user", r.User.Username, "id", r.User.ID, "help_channel", a.helpChannel)
	})
	a.gw.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		log.Warn("discord: gateway disconnected")
	})

	if err := a.gw.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers the message handler and returns the question stream.
func (a *Adapter) Listen(ctx context.Context) (<-chan channel.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	a.listenCtx, a.cancel = context.WithCancel(ctx)
	a.removeHandler = a.gw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// Send posts an answer. With ReplyTo set the message is a Discord reply to
// the question, pinging its author and nobody else.
func (a *Adapter) Send(ctx context.Context, msg channel.OutboundMessage) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return fmt.Errorf("discord: not connected")
	}

	target := msg.ThreadID
	if target == "" {
		target = msg.ChannelID
	}
	if target == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: true},
	}
	if msg.ReplyTo != "" {
		failIfMissing := false
		data.Reference = &discordgo.MessageReference{
			MessageID:       msg.ReplyTo,
			ChannelID:       target,
			FailIfNotExists: &failIfMissing,
		}
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, err := a.gw.ChannelMessageSendComplex(target, data)
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Close removes the handler and closes the Gateway session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	if a.cancel != nil {
		a.cancel()
	}
	close(a.inbound)
	if a.gw != nil {
		return a.gw.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID once Ready has fired.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID records the bot's own user ID.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}

	a.mu.Lock()
	botID, ctx, closed := a.botUserID, a.listenCtx, a.closed
	a.mu.Unlock()
	if closed || ctx == nil || m.Author.ID == botID {
		return
	}

	// Threads are channels of their own; answer inside the thread but keep
	// the parent as the conversation's channel.
	channelID, threadID := m.ChannelID, ""
	if m.GuildID != "" {
		if ch, err := a.gw.Channel(m.ChannelID); err == nil && ch.IsThread() {
			channelID, threadID = ch.ParentID, m.ChannelID
		}
	}

	if !a.listensTo(m.Message, channelID, botID) {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	q := channel.InboundMessage{
		Platform:  "discord",
		ChannelID: channelID,
		ThreadID:  threadID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  displayName(m.Message),
		Text:      m.Content,
		Timestamp: ts,
	}
	select {
	case a.inbound <- q:
	case <-ctx.Done():
	}
}

// listensTo reports whether m is a question for the bot: a DM, anything in
// the help channel, a mention, or a reply to one of its answers.
func (a *Adapter) listensTo(m *discordgo.Message, channelID, botID string) bool {
	if m.GuildID == "" {
		return true
	}
	if a.helpChannel != "" && channelID == a.helpChannel {
		return true
	}
	if botID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	ref := m.ReferencedMessage
	return ref != nil && ref.Author != nil && ref.Author.ID == botID
}

// displayName prefers the server nickname, then the global name.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// retryOnRateLimit retries fn with exponential backoff while Discord answers
// 429.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isRateLimited(err) || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn("discord: rate limited", "attempt", attempt+1, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isRateLimited(err error) bool {
	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests
}
