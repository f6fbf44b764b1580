package session

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Stored field names. Each user's namespace holds exactly these five.
const (
	FieldMessages     = "messages"
	FieldUserData     = "userData"
	FieldAnalytics    = "analytics"
	FieldCostTracking = "costTracking"
	FieldErrorLog     = "errorLog"
)

// Retention bounds. Messages are trimmed when history is read; cost entries
// and error records are trimmed when written.
const (
	MaxMessages    = 100
	MaxCostEntries = 100
	MaxErrorLog    = 100
)

// Action names the actor operations. They tag logs and results.
type Action string

const (
	ActionGetHistory        Action = "getHistory"
	ActionAddMessage        Action = "addMessage"
	ActionClearHistory      Action = "clearHistory"
	ActionUpdatePreferences Action = "updatePreferences"
	ActionAddCostEntry      Action = "addCostEntry"
	ActionIncrementSession  Action = "incrementSession"
	ActionLogError          Action = "logError"
)

// Message is one conversation turn. Timestamp is unix milliseconds.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	TokensUsed *int   `json:"tokensUsed,omitempty"`
}

type UserData struct {
	Preferences  map[string]any `json:"preferences"`
	SessionCount int            `json:"sessionCount"`
}

// Analytics are cached counters; TotalMessages is reset to len(messages) on
// every append.
type Analytics struct {
	TotalMessages int `json:"totalMessages"`
	TokensUsed    int `json:"tokensUsed"`
}

type CostEntry struct {
	Timestamp  int64   `json:"timestamp"`
	TokensUsed int     `json:"tokensUsed"`
	Cost       float64 `json:"cost"`
	Model      string  `json:"model"`
}

// CostTracking is the per-user cost ledger. TotalCost is a running sum over
// every entry ever appended and is not recomputed when old entries are evicted.
type CostTracking struct {
	TotalCost float64     `json:"totalCost"`
	Entries   []CostEntry `json:"entries"`
}

// ErrorRecord is a caller payload flattened together with a "timestamp" key.
type ErrorRecord map[string]any

// Timestamp returns the record time in unix milliseconds, or 0 if missing.
func (r ErrorRecord) Timestamp() int64 {
	switch v := r["timestamp"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// Snapshot is the read view returned by getHistory.
type Snapshot struct {
	Messages     []Message    `json:"messages"`
	UserData     UserData     `json:"userData"`
	Analytics    Analytics    `json:"analytics"`
	CostTracking CostTracking `json:"costTracking"`
}

func DefaultUserData() UserData {
	return UserData{Preferences: map[string]any{}}
}

func DefaultCostTracking() CostTracking {
	return CostTracking{Entries: []CostEntry{}}
}

// DefaultSnapshot is what a never-touched user reads.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Messages:     []Message{},
		UserData:     DefaultUserData(),
		Analytics:    Analytics{},
		CostTracking: DefaultCostTracking(),
	}
}

// tail returns a copy of the last n elements of s.
func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		out := make([]T, len(s))
		copy(out, s)
		return out
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}
