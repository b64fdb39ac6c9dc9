// ClaudeProvider adapts github.com/anthropics/anthropic-sdk-go to the
// ChatCompletion interface. Grounded on the teacher's original
// claude_provider.go, with the OAuth token-refresh plumbing
// (createClaudeTokenSource, oauthBearerMiddleware) removed: SPEC_FULL.md's
// configuration model (spec.md §6) is a static bearer API key, so no
// refresh flow has anywhere to live. Tool-call translation is dropped for
// the same reason C12 never builds a tools list. Wired as the fallback leg
// of FallbackProvider; it does not stream natively in this composition —
// ChatStream delivers the full response as a single delta, which is
// correct because spec.md only requires streaming from the primary
// OpenAI-compatible leg (§4.12).
package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider is a static-bearer-key Anthropic Messages API backend.
type ClaudeProvider struct {
	client *anthropic.Client
}

// NewClaudeProvider creates a provider authenticated with a static API key.
func NewClaudeProvider(apiKey string) *ClaudeProvider {
	client := anthropic.NewClient(
		option.WithAuthToken(apiKey),
		option.WithBaseURL("https://api.anthropic.com"),
	)
	return &ClaudeProvider{client: &client}
}

// Chat sends a single non-streaming completion request.
func (p *ClaudeProvider) Chat(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions) (string, error) {
	params := buildClaudeParams(messages, model, opts)
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}
	return parseClaudeResponse(resp), nil
}

// ChatStream delivers the full response as one delta; see package doc.
func (p *ClaudeProvider) ChatStream(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions, onDelta StreamCallback) (string, error) {
	content, err := p.Chat(ctx, messages, model, opts)
	if err != nil {
		return "", err
	}
	if onDelta != nil && content != "" {
		onDelta(content)
	}
	return content, nil
}

func buildClaudeParams(messages []ChatMessage, model string, opts ChatOptions) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var anthropicMessages []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "user":
			anthropicMessages = append(anthropicMessages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			anthropicMessages = append(anthropicMessages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(4096)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}

func parseClaudeResponse(resp *anthropic.Message) string {
	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}
	return content
}
