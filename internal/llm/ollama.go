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

// ChatOptions are the sampling options sent with every local chat call.
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// OllamaClient talks to a self-hosted Ollama server.
type OllamaClient struct {
	baseURL string
	model   string
	options ChatOptions
	client  *http.Client
}

// OllamaClientOpts holds parameters for creating an OllamaClient.
type OllamaClientOpts struct {
	BaseURL    string
	Model      string
	Options    ChatOptions
	HTTPClient *http.Client
}

// NewOllamaClient creates an OllamaClient.
func NewOllamaClient(opts OllamaClientOpts) (*OllamaClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("llm: ollama base url is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: ollama model is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		options: opts.Options,
		client:  hc,
	}, nil
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

// BaseURL returns the server address.
func (c *OllamaClient) BaseURL() string { return c.baseURL }

// ListModels returns the names of the models the server has pulled.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("llm: create tags request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable("ollama", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Backend: "ollama", Code: resp.StatusCode, Body: snippet(data)}
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, malformed("ollama", err.Error())
	}
	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  ChatOptions `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Chat sends a non-streaming chat request and returns the reply text.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  c.options,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", unavailable("ollama", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Backend: "ollama", Code: resp.StatusCode, Body: snippet(data)}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", malformed("ollama", err.Error())
	}
	content := strings.TrimSpace(out.Message.Content)
	if content == "" {
		return "", malformed("ollama", "empty message content")
	}
	return content, nil
}

// HasModel reports whether want is among names. "llama3" matches both
// "llama3" and any tagged variant such as "llama3:latest".
func HasModel(names []string, want string) bool {
	for _, n := range names {
		if n == want || strings.HasPrefix(n, want+":") {
			return true
		}
	}
	return false
}
