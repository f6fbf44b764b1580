package chat

import (
	"context"
	"fmt"
	"time"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/session"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const (
	NodeHistoryLoader   = "history_loader"
	NodeRetriever       = "retriever"
	NodePromptAssembler = "prompt_assembler"
	NodeResponder       = "responder"
	NodeRecorder        = "recorder"
)

// Values of the "type" key in recorded error log entries.
const (
	FaultRetrieval   = "retrieval"
	FaultInference   = "inference"
	FaultPersistence = "persistence"
)

// Augmenter produces the documentation block appended to the system prompt.
type Augmenter interface {
	Augment(ctx context.Context, message string) (string, error)
}

// recordFault appends a degradation to the user's error log. Failures here
// are only logged.
func recordFault(ctx context.Context, h session.Handle, requestID, kind, message string) {
	if h == nil {
		return
	}
	res := h.LogError(ctx, map[string]any{
		"type":      kind,
		"message":   message,
		"requestId": requestID,
	})
	if !res.Success {
		logx.Warn().Str("request_id", requestID).Str("type", kind).Str("error", res.Error).
			Msg("failed to record fault in error log")
	}
}

// ============ history_loader ============

// newHistoryLoaderPreHandler seeds the state and resolves the user's actor.
func newHistoryLoaderPreHandler(resolver session.Resolver) func(context.Context, Request, *ChatState) (Request, error) {
	return func(ctx context.Context, in Request, s *ChatState) (Request, error) {
		s.UserID = in.UserID
		s.RequestID = in.RequestID
		s.Message = in.Message
		s.Handle = resolver.Get(in.UserID)
		return in, nil
	}
}

func newHistoryLoaderNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in Request) ([]session.Message, error) {
		var h session.Handle
		_ = compose.ProcessState(ctx, func(_ context.Context, s *ChatState) error {
			h = s.Handle
			return nil
		})
		if h == nil {
			logx.Warn().Str("request_id", in.RequestID).Str("user_id", in.UserID).
				Msg("no session handle, continuing with empty history")
			return []session.Message{}, nil
		}
		// GetHistory degrades to defaults on its own
		return h.GetHistory(ctx).Messages, nil
	})
}

func newHistoryLoaderPostHandler() func(context.Context, []session.Message, *ChatState) ([]session.Message, error) {
	return func(ctx context.Context, out []session.Message, s *ChatState) ([]session.Message, error) {
		s.History = out
		logx.Debug().Str("request_id", s.RequestID).Int("history", len(out)).Msg("history loaded")
		return out, nil
	}
}

// ============ retriever ============

// newRetrieverNode returns the prompt variables carrying the augmentation
// block. Any retrieval fault yields an empty block.
func newRetrieverNode(aug Augmenter, prompt PromptConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ []session.Message) (map[string]any, error) {
		vars := prompt.promptVars()
		if aug == nil {
			return vars, nil
		}

		var (
			message, requestID string
			h                  session.Handle
		)
		_ = compose.ProcessState(ctx, func(_ context.Context, s *ChatState) error {
			message, requestID, h = s.Message, s.RequestID, s.Handle
			return nil
		})

		block, err := aug.Augment(ctx, message)
		if err != nil {
			logx.Warn().Err(err).Str("request_id", requestID).Msg("RAG query failed, continuing without documentation")
			recordFault(ctx, h, requestID, FaultRetrieval, err.Error())
			return vars, nil
		}
		vars[varAugmentation] = block
		return vars, nil
	})
}

func newRetrieverPostHandler() func(context.Context, map[string]any, *ChatState) (map[string]any, error) {
	return func(ctx context.Context, out map[string]any, s *ChatState) (map[string]any, error) {
		s.Augmentation, _ = out[varAugmentation].(string)
		return out, nil
	}
}

// ============ prompt_assembler ============

// newPromptAssemblerPreHandler adds the history window and the new message
// to the template variables.
func newPromptAssemblerPreHandler(window int) func(context.Context, map[string]any, *ChatState) (map[string]any, error) {
	return func(ctx context.Context, in map[string]any, s *ChatState) (map[string]any, error) {
		in[varHistory] = historyWindow(s.History, window)
		in[varMessage] = s.Message
		return in, nil
	}
}

// ============ responder ============

func newResponderPostHandler(est inference.Estimator) func(context.Context, *schema.Message, *ChatState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, s *ChatState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("responder returned no message")
		}
		s.Reply = out.Content
		s.TokensUsed = inference.TokensUsed(out)
		s.Fallback, s.FallbackCause = inference.IsFallback(out)
		s.Usage = est.Usage(out)

		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra["usage_cost"] = s.Usage

		logx.Debug().
			Str("request_id", s.RequestID).
			Str("node", NodeResponder).
			Int("total_tokens", s.TokensUsed).
			Float64("cost", s.Usage.Cost).
			Bool("fallback", s.Fallback).
			Msg("AI response ready")
		return out, nil
	}
}

// ============ recorder ============

// newRecorderNode persists the exchange: the user message (required), the
// assistant message, then the cost entry. It returns the reply with the
// analytics and cost ledger read back from the session.
func newRecorderNode(est inference.Estimator, now func() time.Time) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *schema.Message) (Reply, error) {
		var s ChatState
		_ = compose.ProcessState(ctx, func(_ context.Context, st *ChatState) error {
			s = *st
			return nil
		})
		if s.Handle == nil {
			return Reply{}, errx.Processing(fmt.Errorf("no session for user %q", s.UserID))
		}

		userRes := s.Handle.AddMessage(ctx, session.Message{
			Role:      session.RoleUser,
			Content:   s.Message,
			Timestamp: now().UnixMilli(),
		})
		if !userRes.Success {
			return Reply{}, errx.Processing(userRes.Err())
		}

		tokens := s.TokensUsed
		assistantRes := s.Handle.AddMessage(ctx, session.Message{
			Role:       session.RoleAssistant,
			Content:    s.Reply,
			Timestamp:  now().UnixMilli(),
			TokensUsed: &tokens,
		})
		if !assistantRes.Success {
			logx.Error().Str("request_id", s.RequestID).Str("user_id", s.UserID).Str("error", assistantRes.Error).
				Msg("failed to save assistant message")
			recordFault(ctx, s.Handle, s.RequestID, FaultPersistence, "assistant message: "+assistantRes.Error)
		}

		costRes := s.Handle.AddCostEntry(ctx, session.CostEntry{
			Timestamp:  now().UnixMilli(),
			TokensUsed: tokens,
			Cost:       est.Estimate(tokens),
			Model:      est.Model,
		})
		if !costRes.Success {
			logx.Error().Str("request_id", s.RequestID).Str("user_id", s.UserID).Str("error", costRes.Error).
				Msg("failed to save cost entry")
			recordFault(ctx, s.Handle, s.RequestID, FaultPersistence, "cost entry: "+costRes.Error)
		}

		if s.Fallback {
			recordFault(ctx, s.Handle, s.RequestID, FaultInference, s.FallbackCause)
		}

		snap := s.Handle.GetHistory(ctx)
		reply := Reply{
			Reply:        s.Reply,
			Analytics:    snap.Analytics,
			CostTracking: snap.CostTracking,
			RequestID:    s.RequestID,
			TokensUsed:   tokens,
			Fallback:     s.Fallback,
		}
		if assistantRes.Success && assistantRes.Analytics != nil {
			reply.Analytics = *assistantRes.Analytics
		}
		return reply, nil
	})
}
