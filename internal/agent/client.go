package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
)

// ModelConfig describes the OpenAI-compatible chat model used by every agent.
type ModelConfig struct {
	APIKey      string
	Name        string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration

	RequestsPerMinute float64
	MaxConcurrent     int
}

// NewOpenAIProvider returns a provider that builds a chat model on each call.
// Without an API key it reports no model, which sends agents to fallback.
// The rate limiter is shared by every model the provider hands out.
func NewOpenAIProvider(cfg ModelConfig) ModelProvider {
	limiter := newCallLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent)
	return func() (model.BaseChatModel, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, nil
		}
		name := cfg.Name
		if name == "" {
			name = "gpt-4o-mini"
		}
		temperature := cfg.Temperature
		chat, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       name,
			Timeout:     cfg.Timeout,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("create chat model: %w", err)
		}
		if limiter == nil {
			return chat, nil
		}
		return &RateLimitedModel{inner: chat, limiter: limiter}, nil
	}
}

type callLimiter struct {
	requests  *rate.Limiter
	semaphore chan struct{}
}

func newCallLimiter(requestsPerMinute float64, maxConcurrent int) *callLimiter {
	if requestsPerMinute <= 0 && maxConcurrent <= 0 {
		return nil
	}
	l := &callLimiter{}
	if requestsPerMinute > 0 {
		burst := int(requestsPerMinute / 60.0 * 2)
		if burst < 1 {
			burst = 1
		}
		l.requests = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst)
	}
	if maxConcurrent > 0 {
		l.semaphore = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *callLimiter) acquire(ctx context.Context) (func(), error) {
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}
	if l.semaphore == nil {
		return func() {}, nil
	}
	select {
	case l.semaphore <- struct{}{}:
		return func() { <-l.semaphore }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RateLimitedModel gates calls to the wrapped model on a shared request rate
// and concurrency budget.
type RateLimitedModel struct {
	inner   model.BaseChatModel
	limiter *callLimiter
}

func NewRateLimitedModel(inner model.BaseChatModel, requestsPerMinute float64, maxConcurrent int) model.BaseChatModel {
	l := newCallLimiter(requestsPerMinute, maxConcurrent)
	if l == nil {
		return inner
	}
	return &RateLimitedModel{inner: inner, limiter: l}
}

func (m *RateLimitedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	release, err := m.limiter.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.inner.Generate(ctx, input, opts...)
}

func (m *RateLimitedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	release, err := m.limiter.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return m.inner.Stream(ctx, input, opts...)
}
