package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Handle is the set of operations a Session Actor exposes to its callers.
type Handle interface {
	GetHistory(ctx context.Context) Snapshot
	AddMessage(ctx context.Context, msg Message) Result
	ClearHistory(ctx context.Context) Result
	UpdatePreferences(ctx context.Context, patch map[string]any) Result
	AddCostEntry(ctx context.Context, entry CostEntry) Result
	IncrementSession(ctx context.Context) Result
	LogError(ctx context.Context, payload map[string]any) Result
}

// Result is the structured outcome of a mutating operation. Storage faults
// are reported here instead of being returned as errors; callers must not
// assume the mutation applied when Success is false.
type Result struct {
	Action       Action        `json:"-"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Analytics    *Analytics    `json:"analytics,omitempty"`
	CostTracking *CostTracking `json:"costTracking,omitempty"`

	err error
}

// Err returns nil on success and the underlying fault otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errx.WrapStorage(errors.New(r.Error))
}

// Lease defaults. The TTL bounds how long a crashed holder blocks the user;
// the wait bounds how long an operation queues behind other holders.
const (
	DefaultLeaseTTL  = 10 * time.Second
	DefaultLeaseWait = 10 * time.Second
)

// ErrSessionBusy is returned when the user's lease stays held by another
// actor for the whole wait.
var ErrSessionBusy = errors.New("session is busy")

// Actor owns one user's session state. Every operation holds the actor's
// lock for its whole read-modify-write sequence and, when the storage is a
// Locker, the user's lease as well, so operations on the same user never
// interleave across actors or processes sharing the store.
type Actor struct {
	userID  string
	storage Storage
	now     func() time.Time

	leaseTTL  time.Duration
	leaseWait time.Duration

	mu sync.Mutex
}

func NewActor(userID string, storage Storage, now func() time.Time) *Actor {
	if now == nil {
		now = time.Now
	}
	return &Actor{
		userID:    userID,
		storage:   storage,
		now:       now,
		leaseTTL:  DefaultLeaseTTL,
		leaseWait: DefaultLeaseWait,
	}
}

// UserID returns the key this actor serializes.
func (a *Actor) UserID() string {
	return a.userID
}

// GetHistory returns the session snapshot with defaults for missing fields.
// Messages beyond the most recent MaxMessages are dropped and the trimmed list
// is persisted. Internal faults degrade to DefaultSnapshot.
func (a *Actor) GetHistory(ctx context.Context) Snapshot {
	release, err := a.acquire(ctx)
	if err != nil {
		logx.Error().Err(err).Str("user_id", a.userID).Str("action", string(ActionGetHistory)).
			Msg("failed to lock session, returning defaults")
		return DefaultSnapshot()
	}
	defer release()

	snap, err := a.getHistory(ctx)
	if err != nil {
		logx.Error().Err(err).Str("user_id", a.userID).Str("action", string(ActionGetHistory)).
			Msg("failed to read session, returning defaults")
		return DefaultSnapshot()
	}
	return snap
}

func (a *Actor) getHistory(ctx context.Context) (Snapshot, error) {
	snap := DefaultSnapshot()

	msgs, err := load[[]Message](ctx, a, FieldMessages)
	if err != nil {
		return Snapshot{}, err
	}
	switch msgs.Shape {
	case Valid:
		if msgs.Value != nil {
			snap.Messages = msgs.Value
		}
	case Malformed:
		if err := a.heal(ctx, ActionGetHistory, FieldMessages, msgs.Err, []Message{}); err != nil {
			return Snapshot{}, err
		}
	}
	if len(snap.Messages) > MaxMessages {
		snap.Messages = tail(snap.Messages, MaxMessages)
		if err := a.put(ctx, FieldMessages, snap.Messages); err != nil {
			return Snapshot{}, err
		}
	}

	userData, err := load[UserData](ctx, a, FieldUserData)
	if err != nil {
		return Snapshot{}, err
	}
	switch userData.Shape {
	case Valid:
		snap.UserData = userData.Value
		if snap.UserData.Preferences == nil {
			snap.UserData.Preferences = map[string]any{}
		}
	case Malformed:
		if err := a.heal(ctx, ActionGetHistory, FieldUserData, userData.Err, DefaultUserData()); err != nil {
			return Snapshot{}, err
		}
	}

	analytics, err := load[Analytics](ctx, a, FieldAnalytics)
	if err != nil {
		return Snapshot{}, err
	}
	switch analytics.Shape {
	case Valid:
		snap.Analytics = analytics.Value
	case Malformed:
		if err := a.heal(ctx, ActionGetHistory, FieldAnalytics, analytics.Err, Analytics{}); err != nil {
			return Snapshot{}, err
		}
	}

	ct, err := a.loadCostTracking(ctx, ActionGetHistory)
	if err != nil {
		return Snapshot{}, err
	}
	if len(ct.Entries) > MaxCostEntries {
		ct.Entries = tail(ct.Entries, MaxCostEntries)
		if err := a.put(ctx, FieldCostTracking, ct); err != nil {
			return Snapshot{}, err
		}
	}
	snap.CostTracking = ct

	return snap, nil
}

// AddMessage appends msg, sets analytics.totalMessages to the message count
// and adds msg.TokensUsed to analytics.tokensUsed when present.
func (a *Actor) AddMessage(ctx context.Context, msg Message) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionAddMessage, err)
	}
	defer release()

	return a.addMessage(ctx, msg, true)
}

func (a *Actor) addMessage(ctx context.Context, msg Message, mayHeal bool) Result {
	stored, err := load[[]Message](ctx, a, FieldMessages)
	if err != nil {
		return a.fail(ActionAddMessage, err)
	}
	if stored.Shape == Malformed {
		if !mayHeal {
			return a.fail(ActionAddMessage, stored.Err)
		}
		if err := a.heal(ctx, ActionAddMessage, FieldMessages, stored.Err, []Message{}); err != nil {
			return a.fail(ActionAddMessage, err)
		}
		return a.addMessage(ctx, msg, false)
	}

	messages := append(stored.Value, msg)
	if err := a.put(ctx, FieldMessages, messages); err != nil {
		return a.fail(ActionAddMessage, err)
	}

	analytics, err := load[Analytics](ctx, a, FieldAnalytics)
	if err != nil {
		return a.fail(ActionAddMessage, err)
	}
	current := Analytics{}
	switch analytics.Shape {
	case Valid:
		current = analytics.Value
	case Malformed:
		a.logShape(ActionAddMessage, FieldAnalytics, analytics.Err)
	}
	current.TotalMessages = len(messages)
	if msg.TokensUsed != nil {
		current.TokensUsed += *msg.TokensUsed
	}
	if err := a.put(ctx, FieldAnalytics, current); err != nil {
		return a.fail(ActionAddMessage, err)
	}

	return Result{Action: ActionAddMessage, Success: true, Analytics: &current}
}

// ClearHistory resets messages and analytics. User data, the cost ledger and
// the error log are left untouched.
func (a *Actor) ClearHistory(ctx context.Context) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionClearHistory, err)
	}
	defer release()

	if err := a.put(ctx, FieldMessages, []Message{}); err != nil {
		return a.fail(ActionClearHistory, err)
	}
	if err := a.put(ctx, FieldAnalytics, Analytics{}); err != nil {
		return a.fail(ActionClearHistory, err)
	}
	return Result{Action: ActionClearHistory, Success: true}
}

// UpdatePreferences shallow-merges patch into userData.preferences.
func (a *Actor) UpdatePreferences(ctx context.Context, patch map[string]any) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionUpdatePreferences, err)
	}
	defer release()

	userData, err := a.loadUserData(ctx, ActionUpdatePreferences)
	if err != nil {
		return a.fail(ActionUpdatePreferences, err)
	}
	maps.Copy(userData.Preferences, patch)
	if err := a.put(ctx, FieldUserData, userData); err != nil {
		return a.fail(ActionUpdatePreferences, err)
	}
	return Result{Action: ActionUpdatePreferences, Success: true}
}

// AddCostEntry appends entry to the ledger, keeps the most recent
// MaxCostEntries entries and adds entry.Cost to the running total.
func (a *Actor) AddCostEntry(ctx context.Context, entry CostEntry) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionAddCostEntry, err)
	}
	defer release()

	ct, err := a.loadCostTracking(ctx, ActionAddCostEntry)
	if err != nil {
		return a.fail(ActionAddCostEntry, err)
	}

	ct.Entries = tail(append(ct.Entries, entry), MaxCostEntries)
	ct.TotalCost = decimal.NewFromFloat(ct.TotalCost).Add(decimal.NewFromFloat(entry.Cost)).InexactFloat64()

	if err := a.put(ctx, FieldCostTracking, ct); err != nil {
		return a.fail(ActionAddCostEntry, err)
	}
	return Result{Action: ActionAddCostEntry, Success: true, CostTracking: &ct}
}

// IncrementSession adds one to userData.sessionCount.
func (a *Actor) IncrementSession(ctx context.Context) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionIncrementSession, err)
	}
	defer release()

	userData, err := a.loadUserData(ctx, ActionIncrementSession)
	if err != nil {
		return a.fail(ActionIncrementSession, err)
	}
	userData.SessionCount++
	if err := a.put(ctx, FieldUserData, userData); err != nil {
		return a.fail(ActionIncrementSession, err)
	}
	return Result{Action: ActionIncrementSession, Success: true}
}

// LogError appends payload stamped with the current time and keeps the most
// recent MaxErrorLog records.
func (a *Actor) LogError(ctx context.Context, payload map[string]any) Result {
	release, err := a.acquire(ctx)
	if err != nil {
		return a.fail(ActionLogError, err)
	}
	defer release()

	return a.logError(ctx, payload, true)
}

func (a *Actor) logError(ctx context.Context, payload map[string]any, mayHeal bool) Result {
	stored, err := load[[]ErrorRecord](ctx, a, FieldErrorLog)
	if err != nil {
		return a.fail(ActionLogError, err)
	}
	if stored.Shape == Malformed {
		if !mayHeal {
			return a.fail(ActionLogError, stored.Err)
		}
		if err := a.heal(ctx, ActionLogError, FieldErrorLog, stored.Err, []ErrorRecord{}); err != nil {
			return a.fail(ActionLogError, err)
		}
		return a.logError(ctx, payload, false)
	}

	record := make(ErrorRecord, len(payload)+1)
	maps.Copy(record, payload)
	record["timestamp"] = a.now().UnixMilli()

	records := tail(append(stored.Value, record), MaxErrorLog)
	if err := a.put(ctx, FieldErrorLog, records); err != nil {
		return a.fail(ActionLogError, err)
	}
	return Result{Action: ActionLogError, Success: true}
}

// ============ locking ============

// acquire takes the actor's mutex and then, if the storage supports it, the
// user's lease. The returned func releases both.
func (a *Actor) acquire(ctx context.Context) (func(), error) {
	a.mu.Lock()

	locker, ok := a.storage.(Locker)
	if !ok {
		return a.mu.Unlock, nil
	}

	token := uuid.NewString()
	if err := a.waitLease(ctx, locker, token); err != nil {
		a.mu.Unlock()
		return nil, err
	}

	return func() {
		if err := locker.Unlock(context.WithoutCancel(ctx), a.userID, token); err != nil {
			logx.Warn().Err(err).Str("user_id", a.userID).Msg("failed to release session lease, it will expire")
		}
		a.mu.Unlock()
	}, nil
}

// waitLease polls TryLock with jittered exponential backoff until the lease
// is taken or leaseWait elapses.
func (a *Actor) waitLease(ctx context.Context, locker Locker, token string) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.leaseWait)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 50 * time.Millisecond
	eb.MaxElapsedTime = 0
	eb.Reset()

	err := backoff.Retry(func() error {
		ok, err := locker.TryLock(waitCtx, a.userID, token, a.leaseTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrSessionBusy
		}
		return nil
	}, backoff.WithContext(eb, waitCtx))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrSessionBusy
	}
	return err
}

// ============ storage helpers ============

// load reads and classifies one field of the actor's namespace.
func load[T any](ctx context.Context, a *Actor, field string) (Field[T], error) {
	raw, ok, err := a.storage.Get(ctx, a.userID, field)
	if err != nil {
		return Field[T]{}, err
	}
	return decodeField[T](raw, ok), nil
}

func (a *Actor) loadUserData(ctx context.Context, action Action) (UserData, error) {
	stored, err := load[UserData](ctx, a, FieldUserData)
	if err != nil {
		return UserData{}, err
	}
	userData := DefaultUserData()
	switch stored.Shape {
	case Valid:
		userData = stored.Value
		if userData.Preferences == nil {
			userData.Preferences = map[string]any{}
		}
	case Malformed:
		a.logShape(action, FieldUserData, stored.Err)
	}
	return userData, nil
}

// loadCostTracking decodes the ledger, healing a malformed envelope, total
// or entries list in place. A healed entries list keeps the running total.
func (a *Actor) loadCostTracking(ctx context.Context, action Action) (CostTracking, error) {
	raw, ok, err := a.storage.Get(ctx, a.userID, FieldCostTracking)
	if err != nil {
		return CostTracking{}, err
	}
	ct, shape := decodeCostTracking(raw, ok)

	var cause error
	switch {
	case shape.Envelope == Malformed:
		cause = errx.ErrShapeCorrupted
	case shape.Total == Malformed && shape.Entries == Malformed:
		cause = fmt.Errorf("%w: totalCost and entries", errx.ErrShapeCorrupted)
	case shape.Total == Malformed:
		cause = fmt.Errorf("%w: totalCost", errx.ErrShapeCorrupted)
	case shape.Entries == Malformed:
		cause = fmt.Errorf("%w: entries", errx.ErrShapeCorrupted)
	}
	if cause != nil {
		if err := a.heal(ctx, action, FieldCostTracking, cause, ct); err != nil {
			return CostTracking{}, err
		}
	}
	return ct, nil
}

func (a *Actor) put(ctx context.Context, field string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", field, err)
	}
	return a.storage.Put(ctx, a.userID, field, b)
}

// heal overwrites a malformed field with its zero container.
func (a *Actor) heal(ctx context.Context, action Action, field string, cause error, zero any) error {
	a.logShape(action, field, cause)
	return a.put(ctx, field, zero)
}

func (a *Actor) logShape(action Action, field string, cause error) {
	logx.Warn().Err(cause).
		Str("user_id", a.userID).
		Str("action", string(action)).
		Str("field", field).
		Msg("stored field has unexpected shape, resetting")
}

func (a *Actor) fail(action Action, err error) Result {
	logx.Error().Err(err).Str("user_id", a.userID).Str("action", string(action)).Msg("session operation failed")
	return Result{Action: action, Success: false, Error: err.Error(), err: err}
}

var _ Handle = (*Actor)(nil)
