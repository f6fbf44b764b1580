package inference

import (
	"context"
	"errors"
	"fmt"

	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ErrNoAPIKey is returned by NewClient when no Gemini key is configured.
var ErrNoAPIKey = errors.New("gemini api key is not configured")

// NewClient creates the Gemini client shared by the chat model and the embedder.
func NewClient(ctx context.Context, cfg ClientConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModel creates the Gemini chat model used for replies.
func NewChatModel(ctx context.Context, client *genai.Client, cfg Config) (*gemini.ChatModel, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}

	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Model).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}
	return cm, nil
}

// Unavailable is a chat model that always fails. It stands in for the real
// model when no credentials are configured so replies degrade to the
// fallback apology instead of failing startup.
type Unavailable struct {
	Err error
}

func (u Unavailable) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, u.err()
}

func (u Unavailable) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, u.err()
}

func (u Unavailable) err() error {
	if u.Err != nil {
		return u.Err
	}
	return ErrNoAPIKey
}

var _ model.BaseChatModel = Unavailable{}
