package providers

import (
	"context"
	"fmt"

	"github.com/sipeed/ryuuko/pkg/logger"
)

// FallbackProvider wraps a primary and fallback ChatCompletion, kept close
// to the teacher's original fallback_provider.go shape: if the primary
// fails, transparently retry with the fallback and its own model name.
type FallbackProvider struct {
	log           *logger.Logger
	primary       ChatCompletion
	fallback      ChatCompletion
	primaryModel  string
	fallbackModel string
}

// NewFallbackProvider composes primary and fallback backends.
func NewFallbackProvider(log *logger.Logger, primary, fallback ChatCompletion, primaryModel, fallbackModel string) *FallbackProvider {
	return &FallbackProvider{
		log: log, primary: primary, fallback: fallback,
		primaryModel: primaryModel, fallbackModel: fallbackModel,
	}
}

// Chat tries the primary, falling back on any error.
func (p *FallbackProvider) Chat(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions) (string, error) {
	resp, err := p.primary.Chat(ctx, messages, model, opts)
	if err == nil {
		return resp, nil
	}
	p.log.WarnCF("fallback", "primary provider failed, falling back", map[string]interface{}{
		"model": model, "fallback_model": p.fallbackModel, "error": err.Error(),
	})

	fbResp, fbErr := p.fallback.Chat(ctx, messages, p.fallbackModel, opts)
	if fbErr != nil {
		return "", fmt.Errorf("primary failed: %w; fallback also failed: %v", err, fbErr)
	}
	return fbResp, nil
}

// ChatStream tries the primary (streaming if supported), falling back to
// the fallback backend (streaming if supported) on any error.
func (p *FallbackProvider) ChatStream(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions, onDelta StreamCallback) (string, error) {
	var resp string
	var err error
	if sp, ok := p.primary.(StreamingChatCompletion); ok {
		resp, err = sp.ChatStream(ctx, messages, model, opts, onDelta)
	} else {
		resp, err = p.primary.Chat(ctx, messages, model, opts)
	}
	if err == nil {
		return resp, nil
	}
	p.log.WarnCF("fallback", "primary provider failed, falling back", map[string]interface{}{
		"model": model, "fallback_model": p.fallbackModel, "error": err.Error(),
	})

	if sp, ok := p.fallback.(StreamingChatCompletion); ok {
		return sp.ChatStream(ctx, messages, p.fallbackModel, opts, onDelta)
	}
	return p.fallback.Chat(ctx, messages, p.fallbackModel, opts)
}

// Primary returns the underlying primary provider.
func (p *FallbackProvider) Primary() ChatCompletion { return p.primary }

// Fallback returns the underlying fallback provider.
func (p *FallbackProvider) Fallback() ChatCompletion { return p.fallback }

// FallbackModel returns the fallback model name.
func (p *FallbackProvider) FallbackModel() string { return p.fallbackModel }
