package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/session"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
)

// HealthProbeUser is the session probed by Health.
const HealthProbeUser = "health-check"

const MessageRequired = "Message is required"

// Deps are the collaborators of a Service.
type Deps struct {
	Resolver  session.Resolver
	Model     model.BaseChatModel
	Augmenter Augmenter
	Estimator inference.Estimator
	Config    Config
	Prompt    PromptConfig
	Now       func() time.Time

	// Features is reported verbatim by Health.
	Features map[string]bool
}

// Service is the Chat Orchestrator plus the session read/maintenance
// operations exposed to callers.
type Service struct {
	runnable  compose.Runnable[Request, Reply]
	resolver  session.Resolver
	callbacks einocb.Handler
	cfg       Config
	features  map[string]bool
	now       func() time.Time
}

func NewService(ctx context.Context, deps Deps) (*Service, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	defaults := DefaultConfig()
	if deps.Config.MaxMessageChars <= 0 {
		deps.Config.MaxMessageChars = defaults.MaxMessageChars
	}
	if deps.Config.HistoryWindow <= 0 {
		deps.Config.HistoryWindow = defaults.HistoryWindow
	}
	if deps.Features == nil {
		deps.Features = map[string]bool{"chat": true}
	}

	runnable, err := BuildGraph(ctx, &GraphConfig{
		Resolver:      deps.Resolver,
		Model:         deps.Model,
		Augmenter:     deps.Augmenter,
		Estimator:     deps.Estimator,
		Prompt:        deps.Prompt,
		HistoryWindow: deps.Config.HistoryWindow,
		Now:           deps.Now,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		runnable:  runnable,
		resolver:  deps.Resolver,
		callbacks: inference.NewCallbacks(deps.Estimator),
		cfg:       deps.Config,
		features:  deps.Features,
		now:       deps.Now,
	}, nil
}

// ValidateMessage rejects blank messages and messages longer than max
// characters.
func ValidateMessage(message string, max int) error {
	if strings.TrimSpace(message) == "" {
		return errx.Validation(MessageRequired)
	}
	if utf8.RuneCountInString(message) > max {
		return errx.Validation(fmt.Sprintf("Message too long. Maximum %d characters.", max))
	}
	return nil
}

// Chat answers one user message. It fails only for invalid input or when the
// user's message cannot be saved; model and retrieval faults degrade.
func (s *Service) Chat(ctx context.Context, userID, message string) (*Reply, error) {
	if err := ValidateMessage(message, s.cfg.MaxMessageChars); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	logx.Info().Str("request_id", requestID).Str("user_id", userID).Int("chars", utf8.RuneCountInString(message)).Msg("chat request")

	out, err := s.runnable.Invoke(ctx, Request{
		UserID:    userID,
		Message:   message,
		RequestID: requestID,
	}, compose.WithCallbacks(s.callbacks))
	if err != nil {
		logx.Error().Err(err).Str("request_id", requestID).Str("user_id", userID).Msg("chat processing failed")
		var appErr *errx.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, errx.Processing(err)
	}
	return &out, nil
}

// Snapshot returns the user's session, with defaults for anything missing.
func (s *Service) Snapshot(ctx context.Context, userID string) session.Snapshot {
	return s.resolver.Get(userID).GetHistory(ctx)
}

func (s *Service) Clear(ctx context.Context, userID string) session.Result {
	return s.resolver.Get(userID).ClearHistory(ctx)
}

// Search returns the user's messages whose content contains query,
// ignoring case.
func (s *Service) Search(ctx context.Context, userID, query string) []session.Message {
	needle := strings.ToLower(query)
	results := []session.Message{}
	for _, m := range s.Snapshot(ctx, userID).Messages {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			results = append(results, m)
		}
	}
	return results
}

func (s *Service) SetPreferences(ctx context.Context, userID string, patch map[string]any) session.Result {
	return s.resolver.Get(userID).UpdatePreferences(ctx, patch)
}

// BeginSession counts a new session for the user.
func (s *Service) BeginSession(ctx context.Context, userID string) session.Result {
	return s.resolver.Get(userID).IncrementSession(ctx)
}

// Export is a snapshot stamped with the time it was taken.
type Export struct {
	ExportedAt string `json:"exportedAt"`
	session.Snapshot
}

func (s *Service) Export(ctx context.Context, userID string) Export {
	return Export{
		ExportedAt: s.now().UTC().Format(time.RFC3339Nano),
		Snapshot:   s.Snapshot(ctx, userID),
	}
}

const (
	StatusHealthy     = "healthy"
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
)

type Health struct {
	Status         string          `json:"status"`
	Timestamp      string          `json:"timestamp"`
	Features       map[string]bool `json:"features"`
	SessionsStatus string          `json:"sessionsStatus"`
}

// Health probes the health-check session and reports it degraded when the
// probe does not return within the configured timeout.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:         StatusHealthy,
		Timestamp:      s.now().UTC().Format(time.RFC3339Nano),
		Features:       s.features,
		SessionsStatus: StatusOperational,
	}

	timeout := s.cfg.HealthProbeTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().HealthProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.resolver.Get(HealthProbeUser).GetHistory(probeCtx)
	}()

	select {
	case <-done:
	case <-probeCtx.Done():
		logx.Warn().Dur("timeout", timeout).Msg("session health probe timed out")
		h.SessionsStatus = StatusDegraded
	}
	return h
}
