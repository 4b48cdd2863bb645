package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/mspsdc/helpdesk/internal/fallback"
)

type sent struct {
	recipient string
	text      string
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (s *recordingSender) SendText(_ context.Context, recipient, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sent{recipient, text})
	return s.err
}

func (s *recordingSender) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.msgs...)
}

func isNotice(text string) bool {
	for _, n := range WaitNotices() {
		if n == text {
			return true
		}
	}
	return false
}

func newTestCoordinator(t *testing.T, s Sender, opts CoordinatorOpts) *Coordinator {
	t.Helper()
	opts.Sender = s
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func answerAfter(d time.Duration, text string) Work {
	return func(ctx context.Context) fallback.Answer {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return fallback.Answer{Text: text, Backend: fallback.BackendPrimary}
	}
}

func blockUntilCancelled(cancelled chan<- struct{}) Work {
	return func(ctx context.Context) fallback.Answer {
		<-ctx.Done()
		close(cancelled)
		return fallback.Answer{Text: "too late"}
	}
}

func TestNewCoordinator_RequiresSender(t *testing.T) {
	_, err := NewCoordinator(CoordinatorOpts{})
	if err == nil {
		t.Fatal("expected error without sender")
	}
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := newTestCoordinator(t, &recordingSender{}, CoordinatorOpts{})
	if c.first != DefaultFirstNoticeDelay {
		t.Errorf("first = %v, want %v", c.first, DefaultFirstNoticeDelay)
	}
	if c.interval != DefaultNoticeInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultNoticeInterval)
	}
	if c.maxNotices != DefaultMaxNotices {
		t.Errorf("maxNotices = %d, want %d", c.maxNotices, DefaultMaxNotices)
	}
	if c.maxWait != DefaultMaxWait {
		t.Errorf("maxWait = %v, want %v", c.maxWait, DefaultMaxWait)
	}
}

func TestDeliver_FastAnswerSendsOnlyTheAnswer(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		FirstNoticeDelay: 500 * time.Millisecond,
		MaxWait:          2 * time.Second,
	})

	out := c.Deliver(context.Background(), Request{
		Recipient: "919000000001",
		QueryType: "t",
		Work:      answerAfter(0, "Here is the document list."),
	})

	if out.State != StateCompleted {
		t.Fatalf("State = %v, want completed", out.State)
	}
	if out.Notices != 0 {
		t.Errorf("Notices = %d, want 0", out.Notices)
	}
	msgs := s.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(msgs), msgs)
	}
	if msgs[0].text != "Here is the document list." || msgs[0].recipient != "919000000001" {
		t.Errorf("sent %+v", msgs[0])
	}
	if out.Answer.Backend != fallback.BackendPrimary {
		t.Errorf("Answer.Backend = %q, want primary", out.Answer.Backend)
	}
}

func TestDeliver_NoticeBeforeSlowAnswer(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		FirstNoticeDelay: 10 * time.Millisecond,
		NoticeInterval:   time.Second,
		MaxWait:          5 * time.Second,
	})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work:      answerAfter(150*time.Millisecond, "final"),
	})

	if out.State != StateCompleted {
		t.Fatalf("State = %v, want completed", out.State)
	}
	if out.Notices != 1 {
		t.Errorf("Notices = %d, want 1", out.Notices)
	}
	msgs := s.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2: %+v", len(msgs), msgs)
	}
	if !isNotice(msgs[0].text) {
		t.Errorf("first message %q is not a wait notice", msgs[0].text)
	}
	if msgs[1].text != "final" {
		t.Errorf("last message = %q, want %q", msgs[1].text, "final")
	}
}

func TestDeliver_AbandonSendsOneApologyAfterCappedNotices(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		FirstNoticeDelay: 5 * time.Millisecond,
		NoticeInterval:   15 * time.Millisecond,
		MaxNotices:       3,
		MaxWait:          200 * time.Millisecond,
	})
	cancelled := make(chan struct{})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work:      blockUntilCancelled(cancelled),
	})

	if out.State != StateAbandoned {
		t.Fatalf("State = %v, want abandoned", out.State)
	}
	if out.Text != Apology {
		t.Errorf("Text = %q, want apology", out.Text)
	}
	if out.Notices != 3 {
		t.Errorf("Notices = %d, want 3", out.Notices)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("worker context was not cancelled")
	}

	msgs := s.messages()
	apologies, notices := 0, 0
	for _, m := range msgs {
		switch {
		case m.text == Apology:
			apologies++
		case isNotice(m.text):
			notices++
		default:
			t.Errorf("unexpected message %q", m.text)
		}
	}
	if apologies != 1 {
		t.Errorf("apologies = %d, want 1", apologies)
	}
	if notices != 3 {
		t.Errorf("notices = %d, want 3", notices)
	}
	if msgs[len(msgs)-1].text != Apology {
		t.Errorf("last message = %q, want apology", msgs[len(msgs)-1].text)
	}
}

func TestDeliver_GreetingGetsNoNotices(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		FirstNoticeDelay: 5 * time.Millisecond,
		NoticeInterval:   10 * time.Millisecond,
		MaxWait:          2 * time.Second,
	})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		QueryType: "greeting",
		Work:      answerAfter(80*time.Millisecond, "Hello!"),
	})

	if out.Notices != 0 {
		t.Errorf("Notices = %d, want 0 for greeting", out.Notices)
	}
	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].text != "Hello!" {
		t.Errorf("sent %+v, want only the greeting reply", msgs)
	}
}

func TestDeliver_LateResultIsDiscarded(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		MaxNotices: -1,
		MaxWait:    30 * time.Millisecond,
	})
	finished := make(chan struct{})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work: func(context.Context) fallback.Answer {
			// Ignores cancellation on purpose.
			time.Sleep(100 * time.Millisecond)
			close(finished)
			return fallback.Answer{Text: "late answer"}
		},
	})
	if out.State != StateAbandoned {
		t.Fatalf("State = %v, want abandoned", out.State)
	}

	<-finished
	time.Sleep(20 * time.Millisecond)

	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].text != Apology {
		t.Errorf("sent %+v, want exactly one apology", msgs)
	}
}

func TestDeliver_PanickingWorkerEndsInApology(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		MaxNotices: -1,
		MaxWait:    30 * time.Millisecond,
	})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work: func(context.Context) fallback.Answer {
			panic("boom")
		},
	})

	if out.State != StateAbandoned || out.Text != Apology {
		t.Errorf("Outcome = %+v, want abandoned with apology", out)
	}
}

func TestDeliver_PanicApologisesWithoutWaitingOrNotices(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		FirstNoticeDelay: 50 * time.Millisecond,
		NoticeInterval:   100 * time.Millisecond,
		MaxNotices:       3,
		MaxWait:          5 * time.Second,
	})

	start := time.Now()
	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work: func(context.Context) fallback.Answer {
			panic("boom")
		},
	})
	elapsed := time.Since(start)

	if out.State != StateAbandoned || out.Text != Apology {
		t.Errorf("Outcome = %+v, want abandoned with apology", out)
	}
	if out.Notices != 0 {
		t.Errorf("Notices = %d, want 0 after a panic", out.Notices)
	}
	if elapsed >= time.Second {
		t.Errorf("Deliver took %v, want the apology right after the panic", elapsed)
	}
	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].text != Apology {
		t.Errorf("sent %+v, want exactly one apology", msgs)
	}
}

func TestDeliver_ParentCancelSendsApology(t *testing.T) {
	s := &recordingSender{}
	c := newTestCoordinator(t, s, CoordinatorOpts{
		MaxNotices: -1,
		MaxWait:    5 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := c.Deliver(ctx, Request{
		Recipient: "u1",
		Work:      blockUntilCancelled(make(chan struct{})),
	})

	if out.State != StateAbandoned {
		t.Fatalf("State = %v, want abandoned", out.State)
	}
	msgs := s.messages()
	if len(msgs) != 1 || msgs[0].text != Apology {
		t.Errorf("sent %+v, want one apology", msgs)
	}
}

func TestDeliver_SendErrorReported(t *testing.T) {
	s := &recordingSender{err: errors.New("graph api down")}
	c := newTestCoordinator(t, s, CoordinatorOpts{MaxNotices: -1})

	out := c.Deliver(context.Background(), Request{
		Recipient: "u1",
		Work:      answerAfter(0, "answer"),
	})

	if out.State != StateCompleted {
		t.Errorf("State = %v, want completed", out.State)
	}
	if out.SendErr == nil {
		t.Error("SendErr = nil, want the sender's error")
	}
}

func TestNoticeDeck_UsesEveryPhraseBeforeRepeating(t *testing.T) {
	d := newNoticeDeck(nil, rand.New(rand.NewPCG(7, 7)))

	seen := make(map[string]bool)
	for range waitNotices {
		p := d.next()
		if seen[p] {
			t.Fatalf("phrase %q repeated within one deck", p)
		}
		seen[p] = true
	}
	if len(seen) != len(waitNotices) {
		t.Errorf("saw %d phrases, want %d", len(seen), len(waitNotices))
	}
	if p := d.next(); !isNotice(p) {
		t.Errorf("next after reshuffle = %q, not a notice", p)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDispatched: "dispatched",
		StateCompleted:  "completed",
		StateAbandoned:  "abandoned",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
