package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"patientbot/internal/domain"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 100
)

var ErrEmptyUtterance = errors.New("no text content in Anthropic response")

type LLMUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

type Options struct {
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// AnthropicGenerator produces the simulated patient's next line. It is safe
// for concurrent use by many calls.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64

	mu    sync.Mutex
	usage LLMUsage
}

func NewAnthropicGenerator(opts Options) *AnthropicGenerator {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// The call session does its own bounded retries.
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

func (g *AnthropicGenerator) NextUtterance(ctx context.Context, scenario string, history []domain.Message) (string, error) {
	message, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPatientPrompt(scenario, history))),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := LLMUsage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	g.mu.Lock()
	g.usage.Add(usage)
	g.mu.Unlock()

	for _, block := range message.Content {
		if block.Type != "text" {
			continue
		}
		text := strings.TrimSpace(block.Text)
		if text == "" {
			continue
		}
		log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(text), usage.InputTokens, usage.OutputTokens)
		return text, nil
	}
	return "", ErrEmptyUtterance
}

// Usage returns the token totals across every call made so far.
func (g *AnthropicGenerator) Usage() LLMUsage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

func BuildPatientPrompt(scenario string, history []domain.Message) string {
	var lines []string
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Text))
	}
	return fmt.Sprintf(`You are a patient calling about: %s

Conversation:
%s

Reply naturally as the patient (1-2 sentences). If done, say "Thanks, goodbye."

Response:`, scenario, strings.Join(lines, "\n"))
}
