package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Chative-docs-assistant/server/internal/retry"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

// scriptedModel fails the first `failures` calls, then replies with reply.
type scriptedModel struct {
	failures int
	reply    string
	usage    *schema.TokenUsage
	calls    int
	opts     *model.Options
}

func (s *scriptedModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	s.calls++
	s.opts = model.GetCommonOptions(&model.Options{}, opts...)
	if s.calls <= s.failures {
		return nil, fmt.Errorf("upstream error %d", s.calls)
	}
	msg := schema.AssistantMessage(s.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: s.usage}
	return msg, nil
}

func (s *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

var testCfg = Config{Model: "test-model", MaxTokens: 1024, Temperature: 0.7, PricePerThousand: 0.002}

func TestResilientModel_RecoversWithinBudget(t *testing.T) {
	inner := &scriptedModel{failures: 2, reply: "hello", usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	m := NewResilientModel(inner, testCfg, fastPolicy)

	out, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 15, TokensUsed(out))

	fb, _ := IsFallback(out)
	assert.False(t, fb)

	require.NotNil(t, inner.opts.MaxTokens)
	require.NotNil(t, inner.opts.Temperature)
	assert.Equal(t, 1024, *inner.opts.MaxTokens)
	assert.InDelta(t, 0.7, *inner.opts.Temperature, 1e-6)
}

func TestResilientModel_FallbackOnExhaustion(t *testing.T) {
	inner := &scriptedModel{failures: 100}
	m := NewResilientModel(inner, testCfg, fastPolicy)

	out, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, UnavailableReply, out.Content)
	assert.Equal(t, schema.Assistant, out.Role)
	assert.Equal(t, 0, TokensUsed(out))
	assert.Equal(t, 3, inner.calls)

	fb, cause := IsFallback(out)
	assert.True(t, fb)
	assert.Equal(t, "upstream error 3", cause)
}

func TestResilientModel_EmptyReplyReplaced(t *testing.T) {
	inner := &scriptedModel{reply: "   ", usage: &schema.TokenUsage{TotalTokens: 7}}
	m := NewResilientModel(inner, testCfg, fastPolicy)

	out, err := m.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, out.Content)
	assert.Equal(t, 7, TokensUsed(out))
	assert.Equal(t, 1, inner.calls)
}

func TestResilientModel_MissingKeyIsNotRetried(t *testing.T) {
	m := NewResilientModel(Unavailable{}, testCfg, retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour})

	start := time.Now()
	out, err := m.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	fb, cause := IsFallback(out)
	assert.True(t, fb)
	assert.Equal(t, ErrNoAPIKey.Error(), cause)
}

func TestResilientModel_Stream(t *testing.T) {
	m := NewResilientModel(&scriptedModel{reply: "streamed"}, testCfg, fastPolicy)

	sr, err := m.Stream(context.Background(), nil)
	require.NoError(t, err)
	defer sr.Close()

	msg, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "streamed", msg.Content)

	_, err = sr.Recv()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestTokensUsed(t *testing.T) {
	assert.Equal(t, 0, TokensUsed(nil))
	assert.Equal(t, 0, TokensUsed(schema.AssistantMessage("x", nil)))

	msg := schema.AssistantMessage("x", nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 4, CompletionTokens: 6}}
	assert.Equal(t, 10, TokensUsed(msg))
}

func TestEstimator(t *testing.T) {
	est := NewEstimator(testCfg)

	assert.Equal(t, "test-model", est.Model)
	assert.InDelta(t, 0.0, est.Estimate(0), 1e-12)
	assert.InDelta(t, 0.002, est.Estimate(1000), 1e-12)
	assert.InDelta(t, 0.00003, est.Estimate(15), 1e-12)

	msg := schema.AssistantMessage("x", nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 300, CompletionTokens: 200, TotalTokens: 500}}
	uc := est.Usage(msg)
	assert.Equal(t, UsageCost{Model: "test-model", PromptTokens: 300, CompletionTokens: 200, TotalTokens: 500, Cost: 0.001}, uc)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
