package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/mspsdc/helpdesk/internal/fallback"
)

// Resetter clears a user's conversation.
type Resetter interface {
	Reset(ctx context.Context, channel, userID string) error
}

// StatusProvider reports which backends are reachable.
type StatusProvider interface {
	Status(ctx context.Context) fallback.ServiceStatus
}

// CommandHandler processes "!" commands from chat.
type CommandHandler struct {
	resetter Resetter
	status   StatusProvider
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Resetter Resetter
	Status   StatusProvider // optional; !status reports unavailable without it
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Resetter == nil {
		return nil, fmt.Errorf("channel: command handler: resetter is required")
	}
	return &CommandHandler{resetter: opts.Resetter, status: opts.Status}, nil
}

// isCommand returns true if the text is one of the bang commands.
func isCommand(text string) bool {
	return strings.HasPrefix(text, "!") && len(text) > 1
}

// Execute runs a command for the sender of msg and returns the reply text.
func (ch *CommandHandler) Execute(ctx context.Context, msg InboundMessage, text string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "!"))
	if len(fields) == 0 {
		return helpText
	}

	switch strings.ToLower(fields[0]) {
	case "reset":
		if err := ch.resetter.Reset(ctx, msg.Platform, msg.UserID); err != nil {
			return "Sorry, I couldn't clear our conversation right now. Please try again later."
		}
		return "Done! I've cleared our conversation. What would you like to ask?"
	case "status":
		return ch.cmdStatus(ctx)
	case "help":
		return helpText
	default:
		return fmt.Sprintf("Unknown command: `%s`\n\n%s", fields[0], helpText)
	}
}

func (ch *CommandHandler) cmdStatus(ctx context.Context) string {
	if ch.status == nil {
		return "Service status is not available."
	}
	s := ch.status.Status(ctx)
	var b strings.Builder
	fmt.Fprintf(&b, "*Service status:* %s\n", s.ServiceStatus)
	fmt.Fprintf(&b, "Main LLM: %s\n", upDown(s.MainLLMAvailable))
	fmt.Fprintf(&b, "Local LLM: %s\n", upDown(s.LocalLLMAvailable))
	fmt.Fprintf(&b, "Answering with: %s", s.ActiveService)
	if s.Recommendation != "" {
		fmt.Fprintf(&b, "\n%s", s.Recommendation)
	}
	return b.String()
}

func upDown(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

const helpText = "I'm the MSPSDC helpdesk assistant. Ask me anything about MSPSDC services, schemes or certificates.\n\n" +
	"Commands:\n" +
	"`!reset` - start a fresh conversation\n" +
	"`!status` - show which answer services are online\n" +
	"`!help` - show this message"
