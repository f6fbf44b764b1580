package inference

import (
	"context"
	"strings"

	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewCallbacks aggregates the model and prompt observers into one handler.
func NewCallbacks(est Estimator) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler(est)).
		Prompt(newPromptHandler()).
		Handler()
}

func newModelHandler(est Estimator) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("node", info.Name).Str("type", info.Type)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", um)
				}
			}
			ev.Msg("model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			uc := est.Usage(output.Message)
			fb, _ := IsFallback(output.Message)
			logx.Debug().
				Str("node", info.Name).
				Str("model", uc.Model).
				Int("prompt_tokens", uc.PromptTokens).
				Int("completion_tokens", uc.CompletionTokens).
				Int("total_tokens", uc.TotalTokens).
				Float64("cost", uc.Cost).
				Bool("fallback", fb).
				Msg("LLM usage")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("node", info.Name).Str("type", info.Type).Msg("model error")
			return ctx
		},
	}
}

func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output != nil && len(output.Result) > 0 && output.Result[0] != nil {
				logx.Debug().Str("node", info.Name).Int("chars", len(output.Result[0].Content)).Msg("prompt rendered")
			}
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("node", info.Name).Msg("prompt render failed")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
