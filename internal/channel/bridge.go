package channel

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Bridge connects one chat platform to the assistant. It connects the
// adapter, pumps inbound messages to a Router, and closes the adapter on
// shutdown.
type Bridge struct {
	adapter    Adapter
	dispatcher Dispatcher
	resetter   Resetter
	status     StatusProvider
	maxLen     int
}

// BridgeOpts holds parameters for creating a Bridge.
type BridgeOpts struct {
	Adapter    Adapter
	Dispatcher Dispatcher
	Resetter   Resetter
	Status     StatusProvider // optional
	MaxLen     int            // reply chunk size
}

// NewBridge creates a Bridge.
func NewBridge(opts BridgeOpts) (*Bridge, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("channel: adapter is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("channel: dispatcher is required")
	}
	if opts.Resetter == nil {
		return nil, fmt.Errorf("channel: resetter is required")
	}
	return &Bridge{
		adapter:    opts.Adapter,
		dispatcher: opts.Dispatcher,
		resetter:   opts.Resetter,
		status:     opts.Status,
		maxLen:     opts.MaxLen,
	}, nil
}

// Run connects the adapter and blocks until ctx is cancelled or the
// adapter's inbound channel closes.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("channel: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := b.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		Resetter: b.resetter,
		Status:   b.status,
	})
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("channel: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Dispatcher: b.dispatcher,
		CmdHandler: cmdHandler,
		Adapter:    b.adapter,
		BotUserID:  botUserID,
		MaxLen:     b.maxLen,
	})
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("channel: build router: %w", err)
	}

	inbound, err := b.adapter.Listen(ctx)
	if err != nil {
		b.adapter.Close()
		return fmt.Errorf("channel: listen: %w", err)
	}
	log.Info("channel: bridge online", "bot", botUserID)

	for {
		select {
		case <-ctx.Done():
			log.Info("channel: bridge shutting down")
			if err := b.adapter.Close(); err != nil {
				log.Error("channel: close adapter", "err", err)
			}
			return nil

		case msg, ok := <-inbound:
			if !ok {
				log.Warn("channel: inbound channel closed")
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}
