package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeLLM returns a canned response or error.
type fakeLLM struct {
	content  string
	info     map[string]any
	err      error
	messages []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.content, GenerationInfo: f.info}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type usageSpy struct {
	op       string
	in, out  int64
	failures int
}

func (u *usageSpy) RecordLLMUsage(op string, _ time.Duration, in, out int64) {
	u.op, u.in, u.out = op, in, out
}

func (u *usageSpy) RecordFailure(string, time.Duration) { u.failures++ }

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"openai insufficient quota", errors.New("insufficient_quota: check your plan"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("generate: %w", errors.New("credit balance too low")), true},
		{"rate limit is transient", errors.New("rate limit exceeded"), false},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapAPIError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		retryable bool
	}{
		{"rate limit", errors.New("API returned unexpected status code: 429: rate limit exceeded"), false, true},
		{"overloaded", errors.New("anthropic: overloaded_error"), false, true},
		{"bedrock throttling", errors.New("ThrottlingException: Too many requests"), false, true},
		{"quota exceeded", errors.New("quota exceeded for model"), false, true},
		{"billing beats quota", errors.New("insufficient_quota"), true, false},
		{"invalid api key", errors.New("invalid x-api-key"), true, false},
		{"plain error", errors.New("network timeout"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapAPIError(tt.err)
			assert.Equal(t, tt.fatal, errors.Is(wrapped, ErrFatalAPI))
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
			assert.ErrorIs(t, wrapped, tt.err)
		})
	}

	assert.NoError(t, wrapAPIError(nil))
}

func TestGenerateWithSystemReportsUsage(t *testing.T) {
	fake := &fakeLLM{content: "hi", info: map[string]any{"InputTokens": 120, "OutputTokens": 30}}
	m := NewModelFrom(fake, "test-model")

	out, usage, err := m.GenerateWithSystem(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 30}, usage)
	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, "test-model", m.Model())
}

func TestUsageFromProviderKeys(t *testing.T) {
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 7},
		usageFrom(map[string]any{"PromptTokens": 5, "CompletionTokens": 7}))
	assert.Equal(t, Usage{InputTokens: 9, OutputTokens: 2},
		usageFrom(map[string]any{"input_tokens": float64(9), "output_tokens": int32(2)}))
	assert.Equal(t, Usage{}, usageFrom(nil))
}
