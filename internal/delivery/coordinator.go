// Package delivery answers messages on push channels, where the reply is sent
// through the channel's API rather than returned from the inbound request.
// The answer is computed in the background while the user is kept informed
// with "please wait" notices, and a hard deadline guarantees the user always
// hears back.
package delivery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/fallback"
	"github.com/mspsdc/helpdesk/internal/metrics"
)

// Sender pushes a text message to a user on some channel.
type Sender interface {
	SendText(ctx context.Context, recipient, text string) error
}

// Work computes the answer. It must return promptly once ctx is cancelled.
type Work func(ctx context.Context) fallback.Answer

// Request is one inbound message to answer.
type Request struct {
	Recipient string
	QueryType string // "greeting" suppresses wait notices
	Work      Work
}

// State is where a delivery ended up.
type State int

const (
	StateDispatched State = iota
	StateCompleted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "dispatched"
	}
}

// Outcome describes one finished delivery. Exactly one final message (the
// answer or the apology) was attempted.
type Outcome struct {
	State   State
	Answer  fallback.Answer // zero when abandoned
	Text    string          // the final message sent to the user
	Notices int
	SendErr error // failure sending the final message, if any
}

// Defaults for Options.
const (
	DefaultFirstNoticeDelay = 3 * time.Second
	DefaultNoticeInterval   = 60 * time.Second
	DefaultMaxNotices       = 3
	DefaultMaxWait          = 11 * time.Minute
	defaultSendTimeout      = 10 * time.Second
)

// Coordinator runs the wait-and-notify protocol.
type Coordinator struct {
	sender      Sender
	channel     string
	first       time.Duration
	interval    time.Duration
	maxNotices  int
	maxWait     time.Duration
	sendTimeout time.Duration
	notices     *noticeDeck
}

// CoordinatorOpts holds parameters for creating a Coordinator.
type CoordinatorOpts struct {
	Sender           Sender
	Channel          string        // metrics label
	FirstNoticeDelay time.Duration // defaults to DefaultFirstNoticeDelay
	NoticeInterval   time.Duration // defaults to DefaultNoticeInterval
	MaxNotices       int           // defaults to DefaultMaxNotices; negative disables notices
	MaxWait          time.Duration // defaults to DefaultMaxWait
	SendTimeout      time.Duration // per outbound message, defaults to 10s
	Notices          []string      // defaults to the built-in phrases
	Rand             *rand.Rand    // notice order; seeded from the clock when nil
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("delivery: sender is required")
	}
	c := &Coordinator{
		sender:      opts.Sender,
		channel:     opts.Channel,
		first:       opts.FirstNoticeDelay,
		interval:    opts.NoticeInterval,
		maxNotices:  opts.MaxNotices,
		maxWait:     opts.MaxWait,
		sendTimeout: opts.SendTimeout,
	}
	if c.first <= 0 {
		c.first = DefaultFirstNoticeDelay
	}
	if c.interval <= 0 {
		c.interval = DefaultNoticeInterval
	}
	if c.maxNotices == 0 {
		c.maxNotices = DefaultMaxNotices
	}
	if c.maxNotices < 0 {
		c.maxNotices = 0
	}
	if c.maxWait <= 0 {
		c.maxWait = DefaultMaxWait
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = defaultSendTimeout
	}
	rng := opts.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	c.notices = newNoticeDeck(opts.Notices, rng)
	return c, nil
}

// PendingRequest is an answer being computed in the background. The worker
// either writes done once or closes failed; the buffer lets it finish even
// if nobody is reading any more.
type PendingRequest struct {
	done   chan fallback.Answer
	failed chan struct{}
	cancel context.CancelFunc
}

// dispatch starts work on its own goroutine. The worker's context is
// derived from ctx and cancelled when the wait is abandoned.
func dispatch(ctx context.Context, work Work) *PendingRequest {
	wctx, cancel := context.WithCancel(ctx)
	p := &PendingRequest{
		done:   make(chan fallback.Answer, 1),
		failed: make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("delivery: worker panicked", "panic", r)
				close(p.failed)
			}
		}()
		p.done <- work(wctx)
	}()
	return p
}

// Deliver answers one request: it dispatches the work, sends notices while
// waiting, and finally sends either the answer or the apology. The apology
// goes out after MaxWait, as soon as the worker panics, or when ctx ends. It blocks until the final message has been sent. A result that
// arrives after the apology is discarded.
func (c *Coordinator) Deliver(ctx context.Context, req Request) Outcome {
	p := dispatch(ctx, req.Work)
	defer p.cancel()

	deadline := time.NewTimer(c.maxWait)
	defer deadline.Stop()

	var notice *time.Timer
	var noticeC <-chan time.Time
	if c.maxNotices > 0 && req.QueryType != "greeting" {
		notice = time.NewTimer(c.first)
		defer notice.Stop()
		noticeC = notice.C
	}

	var out Outcome
	for {
		select {
		case ans := <-p.done:
			out.State = StateCompleted
			out.Answer = ans
			out.Text = ans.Text
			out.SendErr = c.send(ctx, req.Recipient, ans.Text)
			metrics.Deliveries.WithLabelValues(out.State.String()).Inc()
			return out

		case <-noticeC:
			if err := c.send(ctx, req.Recipient, c.notices.next()); err == nil {
				metrics.NoticesSent.Inc()
			}
			out.Notices++
			if out.Notices < c.maxNotices {
				notice.Reset(c.interval)
			} else {
				noticeC = nil
			}

		case <-p.failed:
			return c.abandon(ctx, req, p, out, "panic")

		case <-deadline.C:
			return c.abandon(ctx, req, p, out, "deadline")

		case <-ctx.Done():
			return c.abandon(ctx, req, p, out, "cancelled")
		}
	}
}

func (c *Coordinator) abandon(ctx context.Context, req Request, p *PendingRequest, out Outcome, why string) Outcome {
	p.cancel()
	log.Warn("delivery: abandoning answer", "recipient", req.Recipient, "reason", why, "notices", out.Notices)
	out.State = StateAbandoned
	out.Text = Apology
	out.SendErr = c.send(context.WithoutCancel(ctx), req.Recipient, Apology)
	metrics.Deliveries.WithLabelValues(out.State.String()).Inc()
	return out
}

func (c *Coordinator) send(ctx context.Context, recipient, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.sender.SendText(ctx, recipient, text); err != nil {
		metrics.SendFailures.WithLabelValues(c.channel).Inc()
		log.Error("delivery: send failed", "channel", c.channel, "recipient", recipient, "err", err)
		return err
	}
	return nil
}
