package channel

import (
	"context"
	"fmt"
)

// DefaultMaxMessageLen is Discord's per-message limit, the tighter of the
// supported platforms.
const DefaultMaxMessageLen = 2000

// AdapterSender sends replies into one chat conversation. It satisfies
// delivery.Sender; the recipient argument is ignored because the
// conversation is fixed by ChannelID and ThreadID.
type AdapterSender struct {
	Adapter   Adapter
	ChannelID string
	ThreadID  string
	ReplyTo   string // quoted by the first chunk of each reply
	MaxLen    int    // defaults to DefaultMaxMessageLen
}

// ReplySender returns an AdapterSender that answers msg in its conversation.
func ReplySender(a Adapter, msg InboundMessage) *AdapterSender {
	return &AdapterSender{
		Adapter:   a,
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		ReplyTo:   msg.MessageID,
	}
}

// SendText sends text, split into chunks the platform accepts.
func (s *AdapterSender) SendText(ctx context.Context, _ string, text string) error {
	for i, chunk := range ChunkText(text, s.MaxLen) {
		out := OutboundMessage{ChannelID: s.ChannelID, ThreadID: s.ThreadID, Text: chunk}
		if i == 0 {
			out.ReplyTo = s.ReplyTo
		}
		if err := s.Adapter.Send(ctx, out); err != nil {
			return fmt.Errorf("channel: send chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// ChunkText splits text into chunks of at most maxLen bytes, preferring to
// break at a newline in the second half of each chunk and never splitting a
// UTF-8 sequence.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cut := maxLen
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		breakAt := -1
		for i := cut - 1; i >= maxLen/2; i-- {
			if text[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:]
		} else {
			chunks = append(chunks, text[:cut])
			text = text[cut:]
		}
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
