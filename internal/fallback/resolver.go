// Package fallback produces an answer for every query by trying the hosted
// RAG service, then the local model, then canned demo answers.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mspsdc/helpdesk/internal/conversation"
	"github.com/mspsdc/helpdesk/internal/exchangelog"
	"github.com/mspsdc/helpdesk/internal/llm"
	"github.com/mspsdc/helpdesk/internal/metrics"
)

// Backend names the tier that produced an answer.
type Backend string

const (
	BackendPrimary Backend = "primary"
	BackendLocal   Backend = "local"
	BackendDemo    Backend = "demo"
)

// Primary is the hosted RAG service.
type Primary interface {
	Query(ctx context.Context, req llm.PrimaryRequest) (*llm.PrimaryResponse, error)
}

// Local is the self-hosted chat model.
type Local interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Availability reports whether the local model is worth calling.
type Availability interface {
	IsAvailable(ctx context.Context) bool
}

// DefaultLocalPreamble is the system prompt for local model calls.
const DefaultLocalPreamble = "You are a helpful assistant for the Meghalaya State Public Services Delivery Commission (MSPSDC). " +
	"Answer questions about MSPSDC services, state welfare schemes, certificates and document applications clearly and concisely. " +
	"If a question is unrelated to MSPSDC, politely say that you can only help with MSPSDC matters."

// Query is one question with the conversation that preceded it.
type Query struct {
	Text      string
	History   []conversation.Turn // turns before Text, oldest first
	QueryType string
}

// Options vary per call.
type Options struct {
	Enhanced       bool
	PrimaryTimeout time.Duration // 0 means the caller's context alone bounds the call
}

// Answer is what Resolve produced.
type Answer struct {
	Text        string
	Backend     Backend
	Category    Category      // set for demo answers
	Turns       []llm.Message // extra turns the primary service asked to keep
	RespondedAt time.Time     // as reported by the backend when it reports one
}

// Resolver walks the tiers in order. Every failure in a tier is contained
// and moves on to the next; the demo tier always answers.
type Resolver struct {
	primary      Primary
	local        Local
	availability Availability
	demo         *DemoResponder
	preamble     string
	historyTurns int
	localTimeout time.Duration
	now          func() time.Time
}

// ResolverOpts holds parameters for creating a Resolver. Primary and Local
// may be nil when that tier is not configured.
type ResolverOpts struct {
	Primary      Primary
	Local        Local
	Availability Availability // required when Local is set
	Demo         *DemoResponder
	Preamble     string        // defaults to DefaultLocalPreamble
	HistoryTurns int           // local context window, defaults to 5
	LocalTimeout time.Duration // defaults to 60s
	Now          func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if opts.Local != nil && opts.Availability == nil {
		return nil, fmt.Errorf("fallback: availability is required with a local backend")
	}
	r := &Resolver{
		primary:      opts.Primary,
		local:        opts.Local,
		availability: opts.Availability,
		demo:         opts.Demo,
		preamble:     opts.Preamble,
		historyTurns: opts.HistoryTurns,
		localTimeout: opts.LocalTimeout,
		now:          opts.Now,
	}
	if r.demo == nil {
		r.demo = NewDemoResponder(nil)
	}
	if r.preamble == "" {
		r.preamble = DefaultLocalPreamble
	}
	if r.historyTurns <= 0 {
		r.historyTurns = 5
	}
	if r.localTimeout <= 0 {
		r.localTimeout = 60 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Resolve returns a non-empty answer for q.
func (r *Resolver) Resolve(ctx context.Context, q Query, opts Options) Answer {
	if opts.Enhanced && r.primary != nil {
		a, err := r.tryPrimary(ctx, q, opts.PrimaryTimeout)
		if err == nil {
			return r.done(a)
		}
		r.failed(BackendPrimary, err)
	}

	if r.local != nil {
		a, err := r.tryLocal(ctx, q)
		if err == nil {
			return r.done(a)
		}
		r.failed(BackendLocal, err)
	}

	text, cat := r.demo.Respond(q.Text)
	return r.done(Answer{Text: text, Backend: BackendDemo, Category: cat, RespondedAt: r.now()})
}

func (r *Resolver) done(a Answer) Answer {
	metrics.Resolutions.WithLabelValues(string(a.Backend)).Inc()
	return a
}

func (r *Resolver) failed(tier Backend, err error) {
	reason := llm.Reason(err)
	if reason == "" {
		reason = "error"
	}
	metrics.TierFailures.WithLabelValues(string(tier), reason).Inc()
	log.Warn("fallback: tier failed", "tier", tier, "reason", reason, "err", err)
}

// errLocalDown is the local tier's failure when the cache says it's down.
var errLocalDown = fmt.Errorf("%w: local model not reachable", llm.ErrUnavailable)

func (r *Resolver) tryPrimary(ctx context.Context, q Query, timeout time.Duration) (a Answer, err error) {
	defer recoverTier(&err)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	history := make([]llm.Message, 0, len(q.History)+1)
	for _, t := range q.History {
		history = append(history, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	history = append(history, llm.Message{Role: string(conversation.RoleUser), Content: q.Text})

	resp, err := r.primary.Query(ctx, llm.PrimaryRequest{
		Query:          q.Text,
		MessageHistory: history,
		QueryType:      q.QueryType,
	})
	if err != nil {
		return Answer{}, err
	}

	respondedAt := r.now()
	if resp.ResponseTime != "" {
		// Unparseable stamps leave RespondedAt zero; the log stores a null
		// latency for those.
		respondedAt, _ = exchangelog.ParseStamp(resp.ResponseTime, respondedAt)
	}
	return Answer{
		Text:        resp.Response,
		Backend:     BackendPrimary,
		Turns:       resp.Turns(),
		RespondedAt: respondedAt,
	}, nil
}

func (r *Resolver) tryLocal(ctx context.Context, q Query) (a Answer, err error) {
	defer recoverTier(&err)

	if !r.availability.IsAvailable(ctx) {
		return Answer{}, errLocalDown
	}

	ctx, cancel := context.WithTimeout(ctx, r.localTimeout)
	defer cancel()

	text, err := r.local.Chat(ctx, r.localMessages(q))
	if err != nil {
		return Answer{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Answer{}, fmt.Errorf("%w: empty local reply", llm.ErrMalformed)
	}
	return Answer{Text: text, Backend: BackendLocal, RespondedAt: r.now()}, nil
}

// localMessages builds preamble + recent conversation + the question. The
// stored seed turn is replaced by the local preamble.
func (r *Resolver) localMessages(q Query) []llm.Message {
	var recent []conversation.Turn
	for _, t := range q.History {
		if t.Role != conversation.RoleSystem {
			recent = append(recent, t)
		}
	}
	if len(recent) > r.historyTurns {
		recent = recent[len(recent)-r.historyTurns:]
	}

	msgs := make([]llm.Message, 0, len(recent)+2)
	msgs = append(msgs, llm.Message{Role: string(conversation.RoleSystem), Content: r.preamble})
	for _, t := range recent {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: string(conversation.RoleUser), Content: q.Text})
	return msgs
}

func recoverTier(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("fallback: tier panicked: %v", r)
	}
}
