package inference

import (
	"context"
	"errors"
	"strings"

	"github.com/Chative-docs-assistant/server/internal/retry"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// UnavailableReply replaces the model reply once every attempt has failed.
	UnavailableReply = "I apologize, but I'm temporarily unavailable. Please try again in a moment."
	// EmptyReply replaces a successful but blank model reply.
	EmptyReply = "I apologize, but I encountered an issue. Please try again."
)

// Extra keys set on fallback replies.
const (
	ExtraFallback      = "fallback"
	ExtraFallbackCause = "fallback_cause"
)

var errNoMessage = errors.New("model returned no message")

// ResilientModel wraps a chat model with the retry policy and never fails:
// after the last failed attempt it answers with UnavailableReply and zero
// token usage.
type ResilientModel struct {
	inner       model.BaseChatModel
	policy      retry.Policy
	maxTokens   int
	temperature float32
}

func NewResilientModel(inner model.BaseChatModel, cfg Config, policy retry.Policy) *ResilientModel {
	return &ResilientModel{
		inner:       inner,
		policy:      policy,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

func (m *ResilientModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	opts = append([]model.Option{
		model.WithMaxTokens(m.maxTokens),
		model.WithTemperature(m.temperature),
	}, opts...)

	out, err := retry.Do(ctx, m.policy, "inference", func(ctx context.Context) (*schema.Message, error) {
		msg, err := m.inner.Generate(ctx, input, opts...)
		if err != nil {
			// a missing key will not fix itself between attempts
			if errors.Is(err, ErrNoAPIKey) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if msg == nil {
			return nil, errNoMessage
		}
		return msg, nil
	})
	if err != nil {
		logx.Error().Err(err).Msg("inference unavailable, answering with fallback reply")
		return fallback(err), nil
	}

	if strings.TrimSpace(out.Content) == "" {
		logx.Warn().Msg("model returned an empty reply")
		replaced := *out
		replaced.Content = EmptyReply
		out = &replaced
	}
	return out, nil
}

func (m *ResilientModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ResilientModel) GetType() string {
	return "Resilient"
}

func fallback(cause error) *schema.Message {
	msg := schema.AssistantMessage(UnavailableReply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{}}
	msg.Extra = map[string]any{
		ExtraFallback:      true,
		ExtraFallbackCause: cause.Error(),
	}
	return msg
}

// IsFallback reports whether msg is the substitute reply produced after the
// model could not be reached. The second value is the last failure text.
func IsFallback(msg *schema.Message) (bool, string) {
	if msg == nil || msg.Extra == nil {
		return false, ""
	}
	ok, _ := msg.Extra[ExtraFallback].(bool)
	cause, _ := msg.Extra[ExtraFallbackCause].(string)
	return ok, cause
}

// TokensUsed returns the total token usage reported on msg, or 0.
func TokensUsed(msg *schema.Message) int {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	u := msg.ResponseMeta.Usage
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

var _ model.BaseChatModel = (*ResilientModel)(nil)
