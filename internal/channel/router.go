package channel

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/assistant"
	"github.com/mspsdc/helpdesk/internal/delivery"
	"github.com/mspsdc/helpdesk/internal/logging"
)

// Dispatcher hands a question to the assistant in the background.
type Dispatcher interface {
	Dispatch(ctx context.Context, in assistant.Inbound, sender delivery.Sender)
}

// Router classifies inbound chat messages and routes them: commands are
// answered directly, everything else goes to the assistant.
type Router struct {
	dispatcher Dispatcher
	cmdHandler *CommandHandler
	adapter    Adapter
	botUserID  string // the bot's own user ID (to filter self-messages)
	maxLen     int
	now        func() time.Time
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Dispatcher Dispatcher
	CmdHandler *CommandHandler
	Adapter    Adapter
	BotUserID  string // bot's user ID for self-message filtering
	MaxLen     int    // reply chunk size, defaults to DefaultMaxMessageLen
	Now        func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("channel: router: dispatcher is required")
	}
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("channel: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("channel: router: adapter is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		dispatcher: opts.Dispatcher,
		cmdHandler: opts.CmdHandler,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		maxLen:     opts.MaxLen,
		now:        now,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message or empty text → ignore
//  2. "!" command → command handler
//  3. Anything else → assistant, answered in the same conversation
//
// Questions are dispatched in the background, so a slow answer for one
// user never holds up the others.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	text := stripMentions(msg.Text)
	if text == "" {
		return
	}
	log.Info("channel: recv", "platform", msg.Platform, "ch", msg.ChannelID, "user", msg.UserName, "text", logging.Truncate(text, 80))

	if isCommand(text) {
		r.handleCommand(ctx, msg, text)
		return
	}

	sender := ReplySender(r.adapter, msg)
	sender.MaxLen = r.maxLen
	r.dispatcher.Dispatch(ctx, assistant.Inbound{
		Channel:    msg.Platform,
		UserID:     msg.UserID,
		Text:       text,
		ReceivedAt: r.now(),
	}, sender)
}

// handleCommand runs a "!" command and sends the response.
func (r *Router) handleCommand(ctx context.Context, msg InboundMessage, text string) {
	response := r.cmdHandler.Execute(ctx, msg, text)
	if err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		ReplyTo:   msg.MessageID,
		Text:      response,
	}); err != nil {
		log.Error("channel: send command response", "platform", msg.Platform, "err", err)
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// mentionRe matches Discord (<@ID>, <@!ID>) and Slack (<@U123>) mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9_]+>`)

func stripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}
