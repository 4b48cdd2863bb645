package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message is a role/content pair as both backends exchange them.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PrimaryRequest is the body posted to the hosted RAG service.
type PrimaryRequest struct {
	Query          string    `json:"query"`
	MessageHistory []Message `json:"message_history"`
	QueryType      string    `json:"query_type"`
}

// PrimaryResponse is the RAG service's answer.
type PrimaryResponse struct {
	Response     string          `json:"response"`
	Responses    json.RawMessage `json:"responses,omitempty"`
	ResponseTime string          `json:"response_time"`
}

// Turns decodes the optional "responses" list: the turns the service wants
// appended to the conversation. Unrecognised shapes yield nil.
func (r *PrimaryResponse) Turns() []Message {
	if len(r.Responses) == 0 {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(r.Responses, &msgs); err != nil {
		return nil
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.Role != "" && m.Content != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PrimaryClient talks to the hosted RAG query service.
type PrimaryClient struct {
	url    string
	client *http.Client
}

// PrimaryClientOpts holds parameters for creating a PrimaryClient.
type PrimaryClientOpts struct {
	URL        string
	HTTPClient *http.Client // optional; per-call deadlines come from ctx
}

// NewPrimaryClient creates a PrimaryClient.
func NewPrimaryClient(opts PrimaryClientOpts) (*PrimaryClient, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("llm: primary url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &PrimaryClient{url: opts.URL, client: hc}, nil
}

// URL returns the configured endpoint.
func (c *PrimaryClient) URL() string { return c.url }

// Query posts one question. The caller's context bounds the call; its
// deadline differs between the web UI and the push channels.
func (c *PrimaryClient) Query(ctx context.Context, req PrimaryRequest) (*PrimaryResponse, error) {
	if req.MessageHistory == nil {
		req.MessageHistory = []Message{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal primary request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create primary request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, unavailable("primary", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("primary", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Backend: "primary", Code: resp.StatusCode, Body: snippet(data)}
	}

	var out PrimaryResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, malformed("primary", err.Error())
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, malformed("primary", "empty response field")
	}
	return &out, nil
}

// Ping reports whether the service answers HTTP at all. Any status counts;
// only transport failures mean unreachable.
func (c *PrimaryClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("llm: create ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return unavailable("primary", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func snippet(b []byte) string {
	const max = 200
	r := []rune(strings.TrimSpace(string(b)))
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return string(r)
}
