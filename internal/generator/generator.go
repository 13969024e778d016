// Package generator produces reply text for a post.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/developingchet/replybot/internal/apiclient"
	"github.com/rs/zerolog"
)

const (
	// DefaultSystemPrompt is the persona used when none is configured.
	DefaultSystemPrompt = "You're a helpful, witty startup founder who builds in public. " +
		"Respond with short, insightful replies to other founders."

	promptTemplate   = "Reply to this build in public tweet in an insightful sentence: '%s'"
	anthropicVersion = "2023-06-01"
	endpointMessages = "messages"
)

// ErrEmptyReply is returned when the model responds without usable text.
var ErrEmptyReply = errors.New("generator returned an empty reply")

// Generator turns post text into a reply.
type Generator interface {
	Generate(ctx context.Context, postText, account string) (string, error)
}

// AnthropicConfig holds parameters for the Anthropic Messages client.
type AnthropicConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	Timeout      time.Duration
	Debug        bool
}

// AnthropicClient generates replies with the Anthropic Messages API.
type AnthropicClient struct {
	cfg AnthropicConfig
	api *apiclient.Client
	log zerolog.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// NewAnthropic builds an AnthropicClient, filling unset fields with defaults.
func NewAnthropic(cfg AnthropicConfig, log zerolog.Logger) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 60
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log = log.With().Str("component", "generator").Logger()
	api := apiclient.New(apiclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Debug:   cfg.Debug,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
	}, log)
	return &AnthropicClient{cfg: cfg, api: api, log: log}
}

// Prompt renders the user prompt for postText.
func Prompt(postText string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(postText))
}

// Generate asks the model for a one-sentence reply to postText.
func (c *AnthropicClient) Generate(ctx context.Context, postText, account string) (string, error) {
	req := messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      c.cfg.SystemPrompt,
		Messages:    []message{{Role: "user", Content: Prompt(postText)}},
	}
	var resp messagesResponse
	if err := c.api.DoJSON(ctx, http.MethodPost, "/v1/messages", endpointMessages, req, &resp); err != nil {
		return "", fmt.Errorf("generate reply for %s: %w", account, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	reply := strings.TrimSpace(b.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	c.log.Debug().Str("account", account).Str("stop_reason", resp.StopReason).Int("chars", len(reply)).
		Msg("reply generated")
	return reply, nil
}

// Canned returns a fixed reply without calling a model. It stands in for the
// real client during rehearsal runs with no API key configured.
type Canned struct {
	Reply string
}

// Generate returns the canned reply.
func (c Canned) Generate(_ context.Context, postText, account string) (string, error) {
	if strings.TrimSpace(c.Reply) == "" {
		return "", ErrEmptyReply
	}
	return c.Reply, nil
}
