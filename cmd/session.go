package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Chative-docs-assistant/server/internal/app"
	"github.com/Chative-docs-assistant/server/internal/session"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the user's session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			snap := a.Service.Snapshot(cmd.Context(), userID)
			if pretty {
				renderSnapshot(cmd.OutOrStdout(), userID, snap)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), snap)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the user's conversation history",
	Long:  `Clear the conversation and reset analytics. Preferences, the cost ledger and the error log are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			return printResult(cmd, a.Service.Clear(cmd.Context(), userID))
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find messages containing a phrase (case-insensitive)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		return withApp(cmd, func(a *app.App) error {
			results := a.Service.Search(cmd.Context(), userID, query)
			if pretty {
				for _, m := range results {
					renderMessage(cmd.OutOrStdout(), m)
				}
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(fmt.Sprintf("%d matches", len(results))))
				return nil
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"query":   query,
				"results": results,
				"count":   len(results),
			})
		})
	},
}

var prefsCmd = &cobra.Command{
	Use:     "prefs key=value...",
	Short:   "Merge preferences into the user's profile",
	Example: `  server prefs --user alice theme=dark verbose=true`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parsePreferences(args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app.App) error {
			return printResult(cmd, a.Service.SetPreferences(cmd.Context(), userID, patch))
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the user's session as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			return printJSON(cmd.OutOrStdout(), a.Service.Export(cmd.Context(), userID))
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Count a new session for the user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			return printResult(cmd, a.Service.BeginSession(cmd.Context(), userID))
		})
	},
}

// printResult prints a session operation result, failing the command when
// the operation failed.
func printResult(cmd *cobra.Command, res session.Result) error {
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	return res.Err()
}

// parsePreferences turns key=value pairs into a preferences patch. Values
// that parse as JSON keep their type; anything else is a string.
func parsePreferences(pairs []string) (map[string]any, error) {
	patch := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid preference %q, expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		patch[key] = v
	}
	return patch, nil
}

func init() {
	rootCmd.AddCommand(historyCmd, clearCmd, searchCmd, prefsCmd, exportCmd, sessionCmd)
}
