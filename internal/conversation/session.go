// Package conversation keeps each user's running chat history, bounded and
// serialized per user.
package conversation

import (
	"errors"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the history kept for one user on one channel.
type Session struct {
	Key            string   `json:"key"`
	Turns          []Turn   `json:"turns"`
	RefinedQueries []string `json:"refined_queries,omitempty"`
}

// Clone returns a deep copy so callers can't alias stored state.
func (s *Session) Clone() *Session {
	c := &Session{Key: s.Key}
	if s.Turns != nil {
		c.Turns = append([]Turn(nil), s.Turns...)
	}
	if s.RefinedQueries != nil {
		c.RefinedQueries = append([]string(nil), s.RefinedQueries...)
	}
	return c
}

// LastTurns returns a copy of the final n turns (all of them when n <= 0
// or the session is shorter).
func (s *Session) LastTurns(n int) []Turn {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...)
}

// Key builds the store key for a user on a channel; user ids are only
// unique within a channel.
func Key(channel, userID string) string {
	return channel + ":" + userID
}

// ErrNotFound is returned by a Store when no session exists for a key.
var ErrNotFound = errors.New("conversation: session not found")

// DefaultSeedPrompt is the system turn every session starts from.
const DefaultSeedPrompt = "You are a helpful assistant that answers all general queries related to " +
	"Meghalaya State Public Services Delivery Commission (MSPSDC) using your knowledge base. " +
	"Do not answer queries that are not related to Meghalaya State Public Services Delivery Commission."
