package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultGraphURL is the Meta Graph API host.
const DefaultGraphURL = "https://graph.facebook.com"

// Client sends messages through the Cloud API. It satisfies
// delivery.Sender.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string // e.g. "v18.0"
	GraphURL      string // defaults to DefaultGraphURL
	HTTPClient    *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp: access token is required")
	}
	if opts.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp: phone number id is required")
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v18.0"
	}
	if opts.GraphURL == "" {
		opts.GraphURL = DefaultGraphURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(opts.GraphURL, "/"), opts.APIVersion, opts.PhoneNumberID),
		token:    opts.AccessToken,
		http:     opts.HTTPClient,
	}, nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

// SendText sends text to the WhatsApp user to, formatted for WhatsApp.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
	}
	msg.Text.Body = FormatText(text)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
