package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxTurns is the history length after which a session starts over.
const DefaultMaxTurns = 20

// Manager owns session lifecycle on top of a Store: lazy creation with a
// seed turn, overflow resets and per-user serialization.
type Manager struct {
	store    Store
	maxTurns int
	seed     string
	now      func() time.Time

	locks keyedMutex
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Store      Store
	MaxTurns   int    // defaults to DefaultMaxTurns
	SeedPrompt string // defaults to DefaultSeedPrompt
	Now        func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("conversation: store is required")
	}
	m := &Manager{
		store:    opts.Store,
		maxTurns: opts.MaxTurns,
		seed:     opts.SeedPrompt,
		now:      opts.Now,
		locks:    keyedMutex{locks: make(map[string]*refLock)},
	}
	if m.maxTurns <= 0 {
		m.maxTurns = DefaultMaxTurns
	}
	if m.seed == "" {
		m.seed = DefaultSeedPrompt
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// MaxTurns returns the overflow threshold.
func (m *Manager) MaxTurns() int { return m.maxTurns }

func (m *Manager) fresh(key string) *Session {
	return &Session{
		Key:   key,
		Turns: []Turn{{Role: RoleSystem, Content: m.seed, Timestamp: m.now()}},
	}
}

// GetOrCreate returns the session for key, creating it with the seed turn
// on first contact.
func (m *Manager) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	s, err := m.store.Get(ctx, key)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	s = m.fresh(key)
	if err := m.store.Put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Append adds one turn to the end of the session.
func (m *Manager) Append(ctx context.Context, key string, role Role, content string) error {
	return m.AppendTurns(ctx, key, Turn{Role: role, Content: content})
}

// AppendTurns adds turns in order. Zero timestamps are filled with now.
func (m *Manager) AppendTurns(ctx context.Context, key string, turns ...Turn) error {
	s, err := m.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = m.now()
		}
		s.Turns = append(s.Turns, t)
	}
	return m.store.Put(ctx, s)
}

// ResetIfOverflowing starts the session over from the seed turn when it
// holds more than MaxTurns turns. It reports whether a reset happened.
func (m *Manager) ResetIfOverflowing(ctx context.Context, key string) (bool, error) {
	s, err := m.GetOrCreate(ctx, key)
	if err != nil {
		return false, err
	}
	if len(s.Turns) <= m.maxTurns {
		return false, nil
	}
	return true, m.store.Put(ctx, m.fresh(key))
}

// Reset discards all history for key and reseeds it.
func (m *Manager) Reset(ctx context.Context, key string) error {
	return m.store.Put(ctx, m.fresh(key))
}

// Forget removes the session entirely.
func (m *Manager) Forget(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

// BeginTurn runs the overflow check and appends the user's message,
// returning the session as the backends should see it.
func (m *Manager) BeginTurn(ctx context.Context, key, text string) (*Session, error) {
	if _, err := m.ResetIfOverflowing(ctx, key); err != nil {
		return nil, err
	}
	if err := m.Append(ctx, key, RoleUser, text); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, key)
}

// Lock serializes turns for one key. Callers must invoke the returned
// function when the turn is finished.
func (m *Manager) Lock(key string) func() {
	return m.locks.lock(key)
}

// keyedMutex hands out one mutex per key and drops it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
