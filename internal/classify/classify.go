// Package classify decides whether an incoming message is small talk about
// the bot itself, and whether it is a greeting or a real query.
package classify

import (
	"context"
	"strings"
	"unicode"
)

// Message types returned by MessageType.
const (
	TypeGreeting = "greeting"
	TypeQuery    = "query"
)

// GeneralResponse answers questions about the bot itself.
const GeneralResponse = "I am a helpful AI based Chatbot for Meghalaya State Public Services Delivery Commission (MSPSDC)"

// Classifier labels incoming messages.
type Classifier interface {
	IsGeneralQuestion(ctx context.Context, text string) (bool, error)
	MessageType(ctx context.Context, text string) (string, error)
}

// Translator renders an English reply in the language of the user's query.
type Translator interface {
	Translate(ctx context.Context, query, msg string) (string, error)
}

var generalQuestions = []string{
	"what's up",
	"what's your role",
	"what can you do",
	"what is your role",
	"who are you",
	"what's your purpose",
	"what is your purpose",
	"what are you doing",
	"what're you doing",
}

var greetingWords = map[string]bool{
	"hello": true, "hi": true, "hey": true, "greetings": true,
	"namaste": true, "hola": true, "hii": true, "morning": true,
}

// Keyword is a Classifier that needs no network access.
type Keyword struct{}

// IsGeneralQuestion reports whether text contains one of the known
// questions about the bot.
func (Keyword) IsGeneralQuestion(_ context.Context, text string) (bool, error) {
	n := normalize(text)
	for _, q := range generalQuestions {
		if strings.Contains(n, q) {
			return true, nil
		}
	}
	return false, nil
}

// MessageType returns TypeGreeting when the message is short and contains a
// greeting word, TypeQuery otherwise.
func (Keyword) MessageType(_ context.Context, text string) (string, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 || len(words) > 4 {
		return TypeQuery, nil
	}
	for _, w := range words {
		if greetingWords[w] {
			return TypeGreeting, nil
		}
	}
	return TypeQuery, nil
}

// normalize lower-cases text, folds typographic apostrophes and collapses
// whitespace.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Safe wraps a Classifier so that errors degrade to "not general" and
// TypeQuery.
type Safe struct {
	Classifier Classifier
}

// IsGeneralQuestion never returns an error.
func (s Safe) IsGeneralQuestion(ctx context.Context, text string) bool {
	if s.Classifier == nil {
		return false
	}
	ok, err := s.Classifier.IsGeneralQuestion(ctx, text)
	if err != nil {
		return false
	}
	return ok
}

// MessageType never returns an error.
func (s Safe) MessageType(ctx context.Context, text string) string {
	if s.Classifier == nil {
		return TypeQuery
	}
	t, err := s.Classifier.MessageType(ctx, text)
	if err != nil || (t != TypeGreeting && t != TypeQuery) {
		return TypeQuery
	}
	return t
}

// Translate returns msg in the query's language when the wrapped classifier
// can translate, and msg unchanged otherwise or on error.
func (s Safe) Translate(ctx context.Context, query, msg string) string {
	tr, ok := s.Classifier.(Translator)
	if !ok {
		return msg
	}
	out, err := tr.Translate(ctx, query, msg)
	if err != nil || out == "" {
		return msg
	}
	return out
}
