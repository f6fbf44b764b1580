package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Chative-docs-assistant/server/internal/chat"
	"github.com/Chative-docs-assistant/server/internal/session"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

// renderSnapshot prints a session as a readable transcript.
func renderSnapshot(w io.Writer, user string, snap session.Snapshot) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Session %s", user)))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf(
		"%d messages, %d tokens, %d sessions, total cost $%.6f",
		snap.Analytics.TotalMessages, snap.Analytics.TokensUsed, snap.UserData.SessionCount, snap.CostTracking.TotalCost,
	)))
	fmt.Fprintln(w)

	if len(snap.Messages) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No messages yet."))
		return
	}
	for _, m := range snap.Messages {
		renderMessage(w, m)
	}
}

func renderMessage(w io.Writer, m session.Message) {
	label := userStyle.Render("You")
	if m.Role == session.RoleAssistant {
		label = assistantStyle.Render("Assistant")
	}
	fmt.Fprintf(w, "%s %s\n", label, dimStyle.Render(formatMillis(m.Timestamp)))
	fmt.Fprintln(w, m.Content)
	fmt.Fprintln(w)
}

func renderHealth(w io.Writer, h chat.Health) {
	status := okStyle.Render(h.Status)
	if h.Status != chat.StatusHealthy {
		status = warnStyle.Render(h.Status)
	}
	sessions := okStyle.Render(h.SessionsStatus)
	if h.SessionsStatus != chat.StatusOperational {
		sessions = warnStyle.Render(h.SessionsStatus)
	}

	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Status:"), status)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Sessions:"), sessions)
	for _, name := range []string{"chat", "inference", "rag", "sessions"} {
		enabled, ok := h.Features[name]
		if !ok {
			continue
		}
		mark := okStyle.Render("on")
		if !enabled {
			mark = warnStyle.Render("off")
		}
		fmt.Fprintf(w, "  %-10s %s\n", name, mark)
	}
	fmt.Fprintln(w, dimStyle.Render(h.Timestamp))
}
