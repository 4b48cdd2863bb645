// Package whatsapp connects the assistant to the WhatsApp Cloud API: it
// verifies and parses webhook deliveries and sends replies.
package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload is the webhook body Meta posts for every event.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []Message         `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Kind classifies a webhook delivery.
type Kind int

const (
	KindInvalid Kind = iota
	KindStatus
	KindText
	KindNonText
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindText:
		return "text"
	case KindNonText:
		return "non-text"
	default:
		return "invalid"
	}
}

// Event is the part of a delivery the bot acts on.
type Event struct {
	Kind          Kind
	From          string // wa_id of the sender
	Name          string
	DisplayNumber string // the business number the message was sent to
	MessageID     string
	MessageType   string
	Text          string
	SentAt        time.Time
}

// ParseWebhook decodes a webhook body. Malformed JSON is an error; a
// well-formed body that carries no message is KindInvalid.
func ParseWebhook(body []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{Kind: KindInvalid}, fmt.Errorf("whatsapp: decode webhook: %w", err)
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Event{Kind: KindInvalid}, nil
	}
	v := p.Entry[0].Changes[0].Value
	if len(v.Statuses) > 0 {
		return Event{Kind: KindStatus}, nil
	}
	if p.Object == "" || len(v.Messages) == 0 {
		return Event{Kind: KindInvalid}, nil
	}

	m := v.Messages[0]
	ev := Event{
		From:          m.From,
		DisplayNumber: v.Metadata.DisplayPhoneNumber,
		MessageID:     m.ID,
		MessageType:   m.Type,
	}
	if len(v.Contacts) > 0 {
		ev.From = v.Contacts[0].WaID
		ev.Name = v.Contacts[0].Profile.Name
	}
	if ev.From == "" {
		return Event{Kind: KindInvalid}, nil
	}
	var secs int64
	if _, err := fmt.Sscan(m.Timestamp, &secs); err == nil && secs > 0 {
		ev.SentAt = time.Unix(secs, 0)
	}

	if m.Type == "text" && m.Text != nil {
		ev.Kind = KindText
		ev.Text = m.Text.Body
		return ev, nil
	}
	ev.Kind = KindNonText
	return ev, nil
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC-SHA256 of body keyed with the app secret.
func VerifySignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || secret == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
