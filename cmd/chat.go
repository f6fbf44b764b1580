package cmd

import (
	"fmt"
	"strings"

	"github.com/Chative-docs-assistant/server/internal/app"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask the assistant a question",
	Long: `Send one message on behalf of --user and print the reply together with
the user's updated analytics and cost ledger.`,
	Example: `  server chat --user alice "How do I schedule a task?"`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		return withApp(cmd, func(a *app.App) error {
			reply, err := a.Service.Chat(cmd.Context(), userID, message)
			if err != nil {
				return err
			}
			if pretty {
				fmt.Fprintln(cmd.OutOrStdout(), assistantStyle.Render("Assistant"))
				fmt.Fprintln(cmd.OutOrStdout(), reply.Reply)
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(fmt.Sprintf(
					"%d tokens, total cost $%.6f", reply.TokensUsed, reply.CostTracking.TotalCost,
				)))
				return nil
			}
			return printJSON(cmd.OutOrStdout(), reply)
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
