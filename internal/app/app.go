package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Chative-docs-assistant/server/internal/chat"
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/retrieval"
	"github.com/Chative-docs-assistant/server/internal/session"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// App is the wired assistant: storage, the session directory and the chat
// service on top of them.
type App struct {
	Config   *Config
	Storage  session.Storage
	Sessions *session.Directory
	Service  *chat.Service

	closers []io.Closer
}

// New wires an App from cfg. Inference and retrieval degrade when they cannot
// be set up; only a broken session backend is fatal.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app config is nil")
	}
	a := &App{Config: cfg}

	storage, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Storage = storage
	a.Sessions = session.NewDirectory(storage, session.WithLease(cfg.Session.LockTTL, cfg.Session.LockWait))

	client, err := inference.NewClient(ctx, cfg.Gemini)
	if err != nil {
		if !errors.Is(err, inference.ErrNoAPIKey) {
			a.Close()
			return nil, err
		}
		logx.Warn().Msg("GEMINI_API_KEY is not set, replies will use the fallback message")
	}

	chatModel, err := a.newChatModel(ctx, client)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := chat.Deps{
		Resolver:  a.Sessions,
		Model:     chatModel,
		Estimator: inference.NewEstimator(cfg.Inference),
		Config:    cfg.Chat,
		Prompt:    cfg.Prompt,
	}

	ragEnabled := false
	if aug := a.newAugmenter(client); aug != nil {
		deps.Augmenter = aug
		ragEnabled = true
	}

	deps.Features = map[string]bool{
		"chat":      true,
		"inference": client != nil,
		"rag":       ragEnabled,
		"sessions":  true,
	}

	a.Service, err = chat.NewService(ctx, deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build chat service: %w", err)
	}

	l := logx.Component("app")
	l.Info().
		Str("environment", cfg.Environment.String()).
		Str("backend", cfg.Session.Backend).
		Str("model", cfg.Inference.Model).
		Bool("rag", ragEnabled).
		Msg("assistant ready")
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (session.Storage, error) {
	cfg := a.Config
	switch cfg.Session.Backend {
	case BackendRedis:
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
		}
		a.closers = append(a.closers, rdb)
		return session.NewRedisStorage(rdb, cfg.Session.TTL), nil

	case BackendSQLite:
		db, err := cfg.SQLite.Open(ctx)
		if err != nil {
			return nil, err
		}
		st := session.NewSQLiteStorage(db)
		a.closers = append(a.closers, st)
		if err := st.Init(ctx); err != nil {
			return nil, err
		}
		return st, nil

	case BackendMemory:
		return session.NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// newChatModel wraps the Gemini model (or a stand-in when there is no client)
// with retries and the fallback reply.
func (a *App) newChatModel(ctx context.Context, client *genai.Client) (model.BaseChatModel, error) {
	var inner model.BaseChatModel = inference.Unavailable{Err: inference.ErrNoAPIKey}
	if client != nil {
		cm, err := inference.NewChatModel(ctx, client, a.Config.Inference)
		if err != nil {
			return nil, err
		}
		inner = cm
	}
	return inference.NewResilientModel(inner, a.Config.Inference, a.Config.Retry), nil
}

// newAugmenter returns nil when retrieval is disabled or unavailable.
func (a *App) newAugmenter(client *genai.Client) *retrieval.Augmenter {
	cfg := a.Config.Retrieval
	if !cfg.Enabled {
		return nil
	}
	if client == nil {
		logx.Warn().Msg("RAG disabled: no Gemini client for embeddings")
		return nil
	}

	embedder, err := retrieval.NewGeminiEmbedder(client, cfg.EmbeddingModel)
	if err != nil {
		logx.Warn().Err(err).Msg("RAG disabled")
		return nil
	}
	index, err := retrieval.OpenIndex(cfg.Dir, cfg.Collection, retrieval.EmbeddingFunc(embedder))
	if err != nil {
		logx.Warn().Err(err).Str("dir", cfg.Dir).Msg("RAG disabled: vector store unavailable")
		return nil
	}
	logx.Info().Str("collection", cfg.Collection).Int("passages", index.Count()).Msg("vector store opened")
	return retrieval.NewAugmenter(embedder, index, cfg.TopK)
}

// Close releases the storage connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
