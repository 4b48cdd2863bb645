// Package assistant is the message pipeline shared by every channel: it
// keeps the user's session, answers through the fallback resolver and
// records each exchange.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/classify"
	"github.com/mspsdc/helpdesk/internal/conversation"
	"github.com/mspsdc/helpdesk/internal/delivery"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/fallback"
	"github.com/mspsdc/helpdesk/internal/logging"
)

// MaintenanceMessage is sent when the pipeline itself fails, for instance
// because the session store is unreachable.
const MaintenanceMessage = "I'm undergoing some maintainence tasks, please contact later..."

// BackendGeneral marks exchanges answered by the general-question shortcut.
const BackendGeneral = "general"

// Resolver produces an answer for a query.
type Resolver interface {
	Resolve(ctx context.Context, q fallback.Query, opts fallback.Options) fallback.Answer
}

// Recorder stores finished exchanges.
type Recorder interface {
	Record(ctx context.Context, e exchangelog.Entry)
}

// Inbound is one message from a user.
type Inbound struct {
	Channel    string // "whatsapp", "slack", "discord", "web", "console"
	UserID     string
	Text       string
	ReceivedAt time.Time
}

// Reply is the synchronous answer to an Inbound.
type Reply struct {
	Text    string
	Backend string
	History []conversation.Turn // session after the exchange, seed turn excluded
}

// Service runs the pipeline.
type Service struct {
	sessions     *conversation.Manager
	resolver     Resolver
	mode         *fallback.Mode
	classifier   classify.Safe
	recorder     Recorder
	delivery     delivery.CoordinatorOpts
	syncTimeout  time.Duration
	asyncTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	Sessions   *conversation.Manager
	Resolver   Resolver
	Mode       *fallback.Mode      // defaults to demo mode
	Classifier classify.Classifier // optional
	Recorder   Recorder            // optional

	// Delivery is the template for push-channel coordinators; Sender and
	// Channel are filled in per message.
	Delivery delivery.CoordinatorOpts

	SyncTimeout  time.Duration // primary budget for the web UI, defaults to 30s
	AsyncTimeout time.Duration // primary budget for push channels, defaults to 600s
	Now          func() time.Time
}

// New creates a Service.
func New(opts ServiceOpts) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("assistant: sessions is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("assistant: resolver is required")
	}
	s := &Service{
		sessions:     opts.Sessions,
		resolver:     opts.Resolver,
		mode:         opts.Mode,
		classifier:   classify.Safe{Classifier: opts.Classifier},
		recorder:     opts.Recorder,
		delivery:     opts.Delivery,
		syncTimeout:  opts.SyncTimeout,
		asyncTimeout: opts.AsyncTimeout,
		now:          opts.Now,
	}
	if s.mode == nil {
		s.mode = fallback.NewMode(false)
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = 30 * time.Second
	}
	if s.asyncTimeout <= 0 {
		s.asyncTimeout = 600 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Mode returns the runtime enhanced/demo switch.
func (s *Service) Mode() *fallback.Mode { return s.mode }

// HandleAsync answers in through sender, keeping the user informed while
// the answer is computed. It returns once the final message was sent.
func (s *Service) HandleAsync(ctx context.Context, in Inbound, sender delivery.Sender) delivery.Outcome {
	in = s.normalize(in)
	key := conversation.Key(in.Channel, in.UserID)
	unlock := s.sessions.Lock(key)
	defer unlock()

	log.Info("assistant: message", "channel", in.Channel, "user", in.UserID, "text", logging.Truncate(in.Text, 80))

	sess, err := s.sessions.BeginTurn(ctx, key, in.Text)
	if err != nil {
		log.Error("assistant: session unavailable", "channel", in.Channel, "user", in.UserID, "err", err)
		if err := sender.SendText(ctx, in.UserID, MaintenanceMessage); err != nil {
			log.Error("assistant: send failed", "channel", in.Channel, "user", in.UserID, "err", err)
		}
		return delivery.Outcome{State: delivery.StateAbandoned, Text: MaintenanceMessage}
	}

	if s.classifier.IsGeneralQuestion(ctx, in.Text) {
		text := s.classifier.Translate(ctx, in.Text, classify.GeneralResponse)
		var sendErr error
		if err := sender.SendText(ctx, in.UserID, text); err != nil {
			log.Error("assistant: send failed", "channel", in.Channel, "user", in.UserID, "err", err)
			sendErr = err
		}
		s.finishGeneral(context.WithoutCancel(ctx), key, in, text)
		return delivery.Outcome{State: delivery.StateCompleted, Text: text, SendErr: sendErr}
	}

	qtype := s.classifier.MessageType(ctx, in.Text)
	q := fallback.Query{Text: in.Text, History: priorTurns(sess), QueryType: qtype}

	opts := s.delivery
	opts.Sender = sender
	opts.Channel = in.Channel
	coord, err := delivery.NewCoordinator(opts)
	if err != nil {
		log.Error("assistant: delivery setup failed", "err", err)
		return delivery.Outcome{State: delivery.StateAbandoned}
	}

	out := coord.Deliver(ctx, delivery.Request{
		Recipient: in.UserID,
		QueryType: qtype,
		Work: func(wctx context.Context) fallback.Answer {
			return s.resolver.Resolve(wctx, q, fallback.Options{
				Enhanced:       s.mode.Enhanced(),
				PrimaryTimeout: s.asyncTimeout,
			})
		},
	})

	// Bookkeeping outlives a cancelled request.
	bctx := context.WithoutCancel(ctx)
	backend := string(out.Answer.Backend)
	respondedAt := out.Answer.RespondedAt
	if out.State == delivery.StateAbandoned {
		backend = "none"
		respondedAt = s.now()
	}
	s.record(bctx, in, out.Text, backend, respondedAt)
	if out.State == delivery.StateCompleted {
		s.remember(bctx, key, out.Answer)
	}
	return out
}

// Dispatch runs HandleAsync on its own goroutine. Wait blocks until every
// dispatched message has been handled.
func (s *Service) Dispatch(ctx context.Context, in Inbound, sender delivery.Sender) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.HandleAsync(ctx, in, sender)
	}()
}

// Go runs fn on a goroutine that Wait also waits for.
func (s *Service) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until all dispatched messages and Go tasks are done.
func (s *Service) Wait() { s.wg.Wait() }

// HandleSync answers in directly, for request/response channels.
func (s *Service) HandleSync(ctx context.Context, in Inbound) (Reply, error) {
	in = s.normalize(in)
	key := conversation.Key(in.Channel, in.UserID)
	unlock := s.sessions.Lock(key)
	defer unlock()

	sess, err := s.sessions.BeginTurn(ctx, key, in.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("assistant: begin turn: %w", err)
	}

	// A client that hangs up mid-answer still gets its exchange logged.
	bctx := context.WithoutCancel(ctx)

	var reply Reply
	if s.classifier.IsGeneralQuestion(ctx, in.Text) {
		text := s.classifier.Translate(ctx, in.Text, classify.GeneralResponse)
		s.finishGeneral(bctx, key, in, text)
		reply = Reply{Text: text, Backend: BackendGeneral}
	} else {
		ans := s.resolver.Resolve(ctx, fallback.Query{
			Text:      in.Text,
			History:   priorTurns(sess),
			QueryType: s.classifier.MessageType(ctx, in.Text),
		}, fallback.Options{
			Enhanced:       s.mode.Enhanced(),
			PrimaryTimeout: s.syncTimeout,
		})
		s.record(bctx, in, ans.Text, string(ans.Backend), ans.RespondedAt)
		s.remember(bctx, key, ans)
		reply = Reply{Text: ans.Text, Backend: string(ans.Backend)}
	}

	reply.History, err = s.History(bctx, in.Channel, in.UserID)
	if err != nil {
		return reply, err
	}
	return reply, nil
}

// History returns the user's conversation without the seed turn.
func (s *Service) History(ctx context.Context, channel, userID string) ([]conversation.Turn, error) {
	sess, err := s.sessions.GetOrCreate(ctx, conversation.Key(channel, userID))
	if err != nil {
		return nil, fmt.Errorf("assistant: history: %w", err)
	}
	var out []conversation.Turn
	for _, t := range sess.Turns {
		if t.Role == conversation.RoleSystem && len(out) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Reset clears the user's conversation.
func (s *Service) Reset(ctx context.Context, channel, userID string) error {
	key := conversation.Key(channel, userID)
	unlock := s.sessions.Lock(key)
	defer unlock()
	if err := s.sessions.Reset(ctx, key); err != nil {
		return fmt.Errorf("assistant: reset: %w", err)
	}
	return nil
}

func (s *Service) normalize(in Inbound) Inbound {
	in.Text = strings.TrimSpace(in.Text)
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = s.now()
	}
	return in
}

// finishGeneral stores the English reply in the session and logs sent, the
// text the user actually received.
func (s *Service) finishGeneral(ctx context.Context, key string, in Inbound, sent string) {
	if err := s.sessions.Append(ctx, key, conversation.RoleSystem, classify.GeneralResponse); err != nil {
		log.Warn("assistant: append failed", "key", key, "err", err)
	}
	s.record(ctx, in, sent, BackendGeneral, s.now())
}

// remember appends the answer to the session. The primary service may hand
// back the turns it wants kept; otherwise the answer itself is stored.
func (s *Service) remember(ctx context.Context, key string, ans fallback.Answer) {
	turns := make([]conversation.Turn, 0, len(ans.Turns)+1)
	for _, m := range ans.Turns {
		if m.Content == "" {
			continue
		}
		turns = append(turns, conversation.Turn{Role: conversation.Role(m.Role), Content: m.Content})
	}
	if len(turns) == 0 {
		turns = append(turns, conversation.Turn{Role: conversation.RoleAssistant, Content: ans.Text})
	}
	if err := s.sessions.AppendTurns(ctx, key, turns...); err != nil {
		log.Warn("assistant: append failed", "key", key, "err", err)
	}
}

func (s *Service) record(ctx context.Context, in Inbound, text, backend string, respondedAt time.Time) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, exchangelog.Entry{
		UserID:      in.UserID,
		Query:       in.Text,
		Response:    text,
		Channel:     in.Channel,
		Backend:     backend,
		RequestedAt: in.ReceivedAt,
		RespondedAt: respondedAt,
	})
}

// priorTurns is the session minus the user turn BeginTurn just added.
func priorTurns(sess *conversation.Session) []conversation.Turn {
	if len(sess.Turns) == 0 {
		return nil
	}
	return append([]conversation.Turn(nil), sess.Turns[:len(sess.Turns)-1]...)
}
