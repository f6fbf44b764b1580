package chat

import (
	"github.com/Chative-docs-assistant/server/internal/inference"
	"github.com/Chative-docs-assistant/server/internal/session"
	"github.com/cloudwego/eino/schema"
)

// Request is the graph input for one chat turn.
type Request struct {
	UserID    string
	Message   string
	RequestID string
}

// Reply is what Chat returns to its caller.
type Reply struct {
	Reply        string               `json:"reply"`
	Analytics    session.Analytics    `json:"analytics"`
	CostTracking session.CostTracking `json:"costTracking"`

	RequestID  string `json:"-"`
	TokensUsed int    `json:"-"`
	Fallback   bool   `json:"-"`
}

// ChatState is the graph-local state of one chat turn.
type ChatState struct {
	UserID    string
	RequestID string
	Message   string
	Handle    session.Handle

	History      []session.Message
	Augmentation string

	Reply         string
	TokensUsed    int
	Fallback      bool
	FallbackCause string
	Usage         inference.UsageCost
}

// trimTail returns the last n elements of s.
func trimTail[T any](s []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// historyWindow converts the most recent n stored messages into prompt
// messages, preserving their roles.
func historyWindow(msgs []session.Message, n int) []*schema.Message {
	recent := trimTail(msgs, n)
	out := make([]*schema.Message, 0, len(recent))
	for _, m := range recent {
		out = append(out, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}
	return out
}
