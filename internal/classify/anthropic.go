package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
)

const (
	generalSystem = "You are a computer system which only gives boolean response i.e. True or False for checking if the query is a general question."
	typeSystem    = "You are a computer system which only gives binary response. answer one word: either 'greeting' or 'query'"
)

// Anthropic classifies messages with a Claude model.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// AnthropicOpts holds parameters for creating an Anthropic classifier.
type AnthropicOpts struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for tests and proxies
}

// NewAnthropic creates an Anthropic classifier.
func NewAnthropic(opts AnthropicOpts) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("classify: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("classify: model is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(1),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		model:  opts.Model,
	}, nil
}

// IsGeneralQuestion asks the model whether text is a question about the bot
// itself, in any language.
func (a *Anthropic) IsGeneralQuestion(ctx context.Context, text string) (bool, error) {
	prompt := fmt.Sprintf(`You need to check if the query contains any of the general questions from the list given or even
similar questions. The query can be in any language, you need to check if the query is in the same context. You need
to respond with True or False accordingly.
general_questions = ["What's up", "What's your role", "What can you do", "What is your role", "Who are you",
"What's your purpose", "What is your purpose", "What are you doing", "What're you doing"]

Text: %s
Class: `, text)

	out, err := a.ask(ctx, askParams{system: generalSystem, prompt: prompt, maxTokens: 16})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "true"), nil
}

// MessageType asks the model whether text is a greeting or a query.
func (a *Anthropic) MessageType(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`Classify the text into one of the classes. The text can be user query or greeting in any language, you need
to identify and tell me for any language if the message is a greeting or a query.
Classes: [greeting, query]

Text: %s
Class: `, text)

	out, err := a.ask(ctx, askParams{system: typeSystem, prompt: prompt, maxTokens: 16})
	if err != nil {
		return "", err
	}
	out = strings.ToLower(strings.Trim(strings.TrimSpace(out), "`'\"."))
	switch out {
	case TypeGreeting, TypeQuery:
		return out, nil
	}
	return "", fmt.Errorf("classify: unexpected message type %q", out)
}

// Translate renders msg in the language query was written in. English
// queries get msg back unchanged.
func (a *Anthropic) Translate(ctx context.Context, query, msg string) (string, error) {
	prompt := fmt.Sprintf(`You need to convert my english message to the same language as that of the query asked by the user provided below.
Provide me the translated message. Provide me just the detected language of the query and the accurately translated
message of the english message provided. The set of languages is
english and indian languages. If the detected language is english, return me the message as it is. Be very accurate
as this impacts user experience.

Query = %s
English Message: %s
Message in detected language: `, query, msg)

	out, err := a.ask(ctx, askParams{prompt: prompt, maxTokens: 1024, temperature: 0.6})
	if err != nil {
		return "", err
	}
	translated := lastLabelledLine(out)
	if translated == "" {
		return "", fmt.Errorf("classify: empty translation")
	}
	return translated, nil
}

// lastLabelledLine returns the text after the last colon of the last line,
// dropping the "Language: ..." and "Message: " labels the model echoes.
func lastLabelledLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	last := lines[len(lines)-1]
	if i := strings.LastIndex(last, ":"); i >= 0 {
		last = last[i+1:]
	}
	return strings.TrimSpace(last)
}

type askParams struct {
	system      string // omitted when empty
	prompt      string
	maxTokens   int64
	temperature float64
}

func (a *Anthropic) ask(ctx context.Context, p askParams) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(p.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.prompt)),
		},
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.system}}
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		log.Warn("classify: request failed", "model", a.model, "err", err)
		return "", fmt.Errorf("classify: request: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("classify: empty response")
	}
	return b.String(), nil
}
