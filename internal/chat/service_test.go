package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/retry"
	"github.com/Chative-docs-assistant/server/internal/session"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	modelCfg   = inference.Config{Model: "test-model", MaxTokens: 1024, Temperature: 0.7, PricePerThousand: 0.002}
	fixedNow   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// stubModel records its inputs and answers from a script.
type stubModel struct {
	mu       sync.Mutex
	fail     bool
	reply    string
	tokens   int
	calls    int
	lastSeen []*schema.Message
}

func (m *stubModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSeen = in
	if m.fail {
		return nil, errors.New("inference service unavailable")
	}
	msg := schema.AssistantMessage(m.reply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: m.tokens}}
	return msg, nil
}

func (m *stubModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type stubAugmenter struct {
	block string
	err   error
	seen  string
}

func (a *stubAugmenter) Augment(_ context.Context, message string) (string, error) {
	a.seen = message
	return a.block, a.err
}

// rejectingStorage fails writes to one field, optionally after some
// successful writes to it.
type rejectingStorage struct {
	*session.MemoryStorage
	field     string
	allowPuts int
}

func (r *rejectingStorage) Put(ctx context.Context, userID, field string, value []byte) error {
	if field == r.field {
		if r.allowPuts == 0 {
			return errors.New("disk full")
		}
		r.allowPuts--
	}
	return r.MemoryStorage.Put(ctx, userID, field, value)
}

type fixture struct {
	svc     *Service
	model   *stubModel
	storage session.Storage
	dir     *session.Directory
}

func newFixture(t *testing.T, m *stubModel, aug Augmenter, storage session.Storage) *fixture {
	t.Helper()
	if storage == nil {
		storage = session.NewMemoryStorage()
	}
	dir := session.NewDirectory(storage, session.WithClock(func() time.Time { return fixedNow }))

	deps := Deps{
		Resolver:  dir,
		Model:     inference.NewResilientModel(m, modelCfg, fastPolicy),
		Estimator: inference.NewEstimator(modelCfg),
		Config:    DefaultConfig(),
		Prompt:    DefaultPromptConfig(),
		Now:       func() time.Time { return fixedNow },
	}
	if aug != nil {
		deps.Augmenter = aug
	}
	svc, err := NewService(context.Background(), deps)
	require.NoError(t, err)
	return &fixture{svc: svc, model: m, storage: storage, dir: dir}
}

func (f *fixture) errorLog(t *testing.T, userID string) []session.ErrorRecord {
	t.Helper()
	raw, ok, err := f.storage.Get(context.Background(), userID, session.FieldErrorLog)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	var out []session.ErrorRecord
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestChat_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubModel{reply: "Agents are classes.", tokens: 500}, nil, nil)

	out, err := f.svc.Chat(ctx, "alice", "What is an agent?")
	require.NoError(t, err)

	assert.Equal(t, "Agents are classes.", out.Reply)
	assert.Equal(t, 500, out.TokensUsed)
	assert.False(t, out.Fallback)
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, session.Analytics{TotalMessages: 2, TokensUsed: 500}, out.Analytics)
	require.Len(t, out.CostTracking.Entries, 1)
	assert.InDelta(t, 0.001, out.CostTracking.TotalCost, 1e-12)
	assert.Equal(t, session.CostEntry{Timestamp: fixedNow.UnixMilli(), TokensUsed: 500, Cost: 0.001, Model: "test-model"},
		out.CostTracking.Entries[0])

	snap := f.svc.Snapshot(ctx, "alice")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.Message{Role: session.RoleUser, Content: "What is an agent?", Timestamp: fixedNow.UnixMilli()}, snap.Messages[0])
	assert.Equal(t, session.RoleAssistant, snap.Messages[1].Role)
	require.NotNil(t, snap.Messages[1].TokensUsed)
	assert.Equal(t, 500, *snap.Messages[1].TokensUsed)

	assert.Empty(t, f.errorLog(t, "alice"))
}

func TestChat_ReplyJSONShape(t *testing.T) {
	f := newFixture(t, &stubModel{reply: "hi", tokens: 10}, nil, nil)

	out, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.ElementsMatch(t, []string{"reply", "analytics", "costTracking"}, keys(fields))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestChat_PromptLayout(t *testing.T) {
	ctx := context.Background()
	aug := &stubAugmenter{block: "\n\nRELEVANT DOCUMENTATION:\nAgents extend the Agent class."}
	m := &stubModel{reply: "ok", tokens: 1}
	f := newFixture(t, m, aug, nil)

	h := f.dir.Get("alice")
	for i := range 12 {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		require.True(t, h.AddMessage(ctx, session.Message{Role: role, Content: fmt.Sprintf("turn %d", i)}).Success)
	}

	_, err := f.svc.Chat(ctx, "alice", "How do I {{.Deploy}} an agent?")
	require.NoError(t, err)

	in := m.lastSeen
	require.Len(t, in, 1+10+1)

	assert.Equal(t, schema.System, in[0].Role)
	assert.Contains(t, in[0].Content, "You are a Cloudflare Agents Documentation Assistant.")
	assert.True(t, strings.HasSuffix(in[0].Content, "etc.\n\nRELEVANT DOCUMENTATION:\nAgents extend the Agent class."))

	for i, msg := range in[1:11] {
		assert.Equal(t, fmt.Sprintf("turn %d", i+2), msg.Content)
	}
	assert.Equal(t, schema.User, in[1].Role)
	assert.Equal(t, schema.Assistant, in[2].Role)

	assert.Equal(t, schema.User, in[11].Role)
	assert.Equal(t, "How do I {{.Deploy}} an agent?", in[11].Content)
	assert.Equal(t, "How do I {{.Deploy}} an agent?", aug.seen)
}

func TestChat_NoAugmentationWithoutMatches(t *testing.T) {
	m := &stubModel{reply: "ok"}
	f := newFixture(t, m, &stubAugmenter{}, nil)

	_, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(m.lastSeen[0].Content, "entertainment, etc."))
}

func TestChat_FallbackReply(t *testing.T) {
	ctx := context.Background()
	m := &stubModel{fail: true}
	f := newFixture(t, m, nil, nil)

	out, err := f.svc.Chat(ctx, "alice", "hello")
	require.NoError(t, err)

	assert.Equal(t, inference.UnavailableReply, out.Reply)
	assert.NotEmpty(t, out.Reply)
	assert.Equal(t, 0, out.TokensUsed)
	assert.True(t, out.Fallback)
	assert.Equal(t, 3, m.calls)

	snap := f.svc.Snapshot(ctx, "alice")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hello", snap.Messages[0].Content)
	require.NotNil(t, snap.Messages[1].TokensUsed)
	assert.Equal(t, 0, *snap.Messages[1].TokensUsed)
	require.Len(t, snap.CostTracking.Entries, 1)
	assert.Zero(t, snap.CostTracking.Entries[0].Cost)

	records := f.errorLog(t, "alice")
	require.Len(t, records, 1)
	assert.Equal(t, FaultInference, records[0]["type"])
	assert.Equal(t, "inference service unavailable", records[0]["message"])
	assert.Equal(t, out.RequestID, records[0]["requestId"])
	assert.Equal(t, fixedNow.UnixMilli(), records[0].Timestamp())
}

func TestChat_EmptyModelReply(t *testing.T) {
	f := newFixture(t, &stubModel{reply: "", tokens: 9}, nil, nil)

	out, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, inference.EmptyReply, out.Reply)
	assert.Equal(t, 9, out.TokensUsed)
}

func TestChat_RetrievalFailureDegrades(t *testing.T) {
	m := &stubModel{reply: "ok", tokens: 3}
	f := newFixture(t, m, &stubAugmenter{err: errors.New("index offline")}, nil)

	out, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Reply)
	assert.NotContains(t, m.lastSeen[0].Content, "RELEVANT DOCUMENTATION")

	records := f.errorLog(t, "alice")
	require.Len(t, records, 1)
	assert.Equal(t, FaultRetrieval, records[0]["type"])
	assert.Equal(t, "index offline", records[0]["message"])
}

func TestChat_Validation(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr string
	}{
		{"empty", "", MessageRequired},
		{"whitespace", " ", MessageRequired},
		{"tabs and newlines", "\t\n", MessageRequired},
		{"at limit", strings.Repeat("a", 2000), ""},
		{"multibyte at limit", strings.Repeat("é", 2000), ""},
		{"over limit", strings.Repeat("a", 2001), "Message too long. Maximum 2000 characters."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubModel{reply: "ok"}
			f := newFixture(t, m, nil, nil)

			out, err := f.svc.Chat(context.Background(), "alice", tt.message)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "ok", out.Reply)
				return
			}
			require.Error(t, err)
			assert.True(t, errx.IsValidation(err))
			assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
			assert.Equal(t, tt.wantErr, errx.MessageOf(err))
			assert.Zero(t, m.calls)
			assert.Empty(t, f.svc.Snapshot(context.Background(), "alice").Messages)
		})
	}
}

func TestChat_UserMessageWriteFailure(t *testing.T) {
	storage := &rejectingStorage{MemoryStorage: session.NewMemoryStorage(), field: session.FieldMessages}
	f := newFixture(t, &stubModel{reply: "ok"}, nil, storage)

	out, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, http.StatusInternalServerError, errx.StatusOf(err))
	assert.True(t, strings.HasPrefix(errx.MessageOf(err), errx.ProcessingFailedMessage+": "))
}

func TestChat_AssistantMessageWriteFailure(t *testing.T) {
	ctx := context.Background()
	storage := &rejectingStorage{MemoryStorage: session.NewMemoryStorage(), field: session.FieldMessages, allowPuts: 1}
	f := newFixture(t, &stubModel{reply: "ok", tokens: 100}, nil, storage)

	out, err := f.svc.Chat(ctx, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Reply)
	// analytics come from the session as it stands after the user message
	assert.Equal(t, session.Analytics{TotalMessages: 1}, out.Analytics)
	require.Len(t, out.CostTracking.Entries, 1)

	snap := f.svc.Snapshot(ctx, "alice")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, session.RoleUser, snap.Messages[0].Role)

	records := f.errorLog(t, "alice")
	require.Len(t, records, 1)
	assert.Equal(t, FaultPersistence, records[0]["type"])
	assert.Contains(t, records[0]["message"], "assistant message")
}

func TestChat_CostEntryWriteFailureIsBestEffort(t *testing.T) {
	storage := &rejectingStorage{MemoryStorage: session.NewMemoryStorage(), field: session.FieldCostTracking}
	f := newFixture(t, &stubModel{reply: "ok", tokens: 100}, nil, storage)

	out, err := f.svc.Chat(context.Background(), "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, session.Analytics{TotalMessages: 2, TokensUsed: 100}, out.Analytics)
	assert.Empty(t, out.CostTracking.Entries)

	records := f.errorLog(t, "alice")
	require.Len(t, records, 1)
	assert.Contains(t, records[0]["message"], "cost entry")
}

func TestChat_LedgerAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubModel{reply: "ok", tokens: 1000}, nil, nil)

	for range 3 {
		_, err := f.svc.Chat(ctx, "alice", "hello")
		require.NoError(t, err)
	}
	out, err := f.svc.Chat(ctx, "alice", "hello")
	require.NoError(t, err)
	assert.InDelta(t, 0.008, out.CostTracking.TotalCost, 1e-12)
	assert.Len(t, out.CostTracking.Entries, 4)
	assert.Equal(t, session.Analytics{TotalMessages: 8, TokensUsed: 4000}, out.Analytics)
}

func TestChat_ConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubModel{reply: "ok", tokens: 1}, nil, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Chat(ctx, fmt.Sprintf("user-%d", i%2), "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, u := range []string{"user-0", "user-1"} {
		snap := f.svc.Snapshot(ctx, u)
		assert.Len(t, snap.Messages, 8)
		assert.Equal(t, 8, snap.Analytics.TotalMessages)
		assert.Len(t, snap.CostTracking.Entries, 4)
	}
}

func TestService_SessionOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubModel{reply: "Durable Objects hold state."}, nil, nil)

	_, err := f.svc.Chat(ctx, "alice", "Tell me about DURABLE objects")
	require.NoError(t, err)

	t.Run("search", func(t *testing.T) {
		results := f.svc.Search(ctx, "alice", "durable")
		require.Len(t, results, 2)
		assert.Empty(t, f.svc.Search(ctx, "alice", "workflow"))
		assert.Empty(t, f.svc.Search(ctx, "bob", "durable"))
		assert.Len(t, f.svc.Search(ctx, "alice", ""), 2)
	})

	t.Run("preferences", func(t *testing.T) {
		require.True(t, f.svc.SetPreferences(ctx, "alice", map[string]any{"theme": "dark"}).Success)
		require.True(t, f.svc.SetPreferences(ctx, "alice", map[string]any{"lang": "en"}).Success)
		assert.Equal(t, map[string]any{"theme": "dark", "lang": "en"}, f.svc.Snapshot(ctx, "alice").UserData.Preferences)
	})

	t.Run("session count", func(t *testing.T) {
		require.True(t, f.svc.BeginSession(ctx, "alice").Success)
		assert.Equal(t, 1, f.svc.Snapshot(ctx, "alice").UserData.SessionCount)
	})

	t.Run("export", func(t *testing.T) {
		exp := f.svc.Export(ctx, "alice")
		assert.Equal(t, "2025-03-01T12:00:00Z", exp.ExportedAt)
		assert.Len(t, exp.Messages, 2)

		b, err := json.Marshal(exp)
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(b, &fields))
		assert.ElementsMatch(t, []string{"exportedAt", "messages", "userData", "analytics", "costTracking"}, keys(fields))
	})

	t.Run("clear", func(t *testing.T) {
		require.True(t, f.svc.Clear(ctx, "alice").Success)
		snap := f.svc.Snapshot(ctx, "alice")
		assert.Empty(t, snap.Messages)
		assert.Equal(t, session.Analytics{}, snap.Analytics)
		assert.Len(t, snap.CostTracking.Entries, 1)
		assert.Equal(t, "dark", snap.UserData.Preferences["theme"])
	})
}

// slowResolver hands out a handle whose reads block until released.
type slowResolver struct {
	session.Resolver
	release chan struct{}
}

type slowHandle struct {
	session.Handle
	release chan struct{}
}

func (r slowResolver) Get(userID string) session.Handle {
	return slowHandle{Handle: r.Resolver.Get(userID), release: r.release}
}

func (h slowHandle) GetHistory(ctx context.Context) session.Snapshot {
	<-h.release
	return h.Handle.GetHistory(ctx)
}

func TestNewService_ZeroConfigKeepsHistory(t *testing.T) {
	ctx := context.Background()
	m := &stubModel{reply: "ok", tokens: 1}
	dir := session.NewDirectory(session.NewMemoryStorage())

	svc, err := NewService(ctx, Deps{
		Resolver:  dir,
		Model:     m,
		Estimator: inference.NewEstimator(modelCfg),
		Prompt:    DefaultPromptConfig(),
	})
	require.NoError(t, err)

	h := dir.Get("bob")
	for i := range 12 {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		require.True(t, h.AddMessage(ctx, session.Message{Role: role, Content: fmt.Sprintf("turn %d", i)}).Success)
	}

	_, err = svc.Chat(ctx, "bob", "What changed?")
	require.NoError(t, err)

	// system + default window of 10 + the new message
	require.Len(t, m.lastSeen, 1+10+1)
	assert.Equal(t, "turn 2", m.lastSeen[1].Content)
	assert.Equal(t, "What changed?", m.lastSeen[11].Content)
}

func TestChat_LogsCharacterCount(t *testing.T) {
	var logs bytes.Buffer
	logx.SetOutput(&logs)
	t.Cleanup(func() { logx.SetOutput(os.Stderr) })

	f := newFixture(t, &stubModel{reply: "ok", tokens: 1}, nil, nil)
	msg := "héllo wörld ✓"
	require.Greater(t, len(msg), utf8.RuneCountInString(msg))

	_, err := f.svc.Chat(context.Background(), "u1", msg)
	require.NoError(t, err)

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]any
		if json.Unmarshal(raw, &entry) == nil && entry["message"] == "chat request" {
			line = entry
			break
		}
	}
	require.NotNil(t, line)
	assert.EqualValues(t, utf8.RuneCountInString(msg), line["chars"])
}

func TestService_Health(t *testing.T) {
	ctx := context.Background()

	t.Run("operational", func(t *testing.T) {
		f := newFixture(t, &stubModel{}, nil, nil)
		h := f.svc.Health(ctx)
		assert.Equal(t, StatusHealthy, h.Status)
		assert.Equal(t, StatusOperational, h.SessionsStatus)
		assert.Equal(t, map[string]bool{"chat": true}, h.Features)
		assert.Equal(t, "2025-03-01T12:00:00Z", h.Timestamp)
	})

	t.Run("degraded on timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		cfg := DefaultConfig()
		cfg.HealthProbeTimeout = 20 * time.Millisecond
		svc, err := NewService(ctx, Deps{
			Resolver:  slowResolver{Resolver: session.NewDirectory(session.NewMemoryStorage()), release: release},
			Model:     &stubModel{},
			Estimator: inference.NewEstimator(modelCfg),
			Config:    cfg,
			Prompt:    DefaultPromptConfig(),
		})
		require.NoError(t, err)

		h := svc.Health(ctx)
		assert.Equal(t, StatusDegraded, h.SessionsStatus)
	})
}

func TestBuildGraph_RequiresCollaborators(t *testing.T) {
	ctx := context.Background()

	_, err := BuildGraph(ctx, nil)
	assert.Error(t, err)

	_, err = BuildGraph(ctx, &GraphConfig{Model: &stubModel{}})
	assert.Error(t, err)

	_, err = BuildGraph(ctx, &GraphConfig{Resolver: session.NewDirectory(session.NewMemoryStorage())})
	assert.Error(t, err)
}

func TestHistoryWindow(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleUser, Content: "a"},
		{Role: session.RoleAssistant, Content: "b"},
		{Role: session.RoleUser, Content: "c"},
	}

	got := historyWindow(msgs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, schema.Assistant, got[0].Role)
	assert.Equal(t, "b", got[0].Content)
	assert.Equal(t, "c", got[1].Content)

	assert.Len(t, historyWindow(msgs, 10), 3)
	assert.Empty(t, historyWindow(msgs, 0))
	assert.Empty(t, historyWindow(nil, 10))
}
