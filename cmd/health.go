package cmd

import (
	"github.com/Chative-docs-assistant/server/internal/app"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report service status and component availability",
	Long: `Probe the session store and report which components are available.

The session store is reported "degraded" when the probe does not answer
within HEALTH_PROBE_TIMEOUT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.App) error {
			h := a.Service.Health(cmd.Context())
			if pretty {
				renderHealth(cmd.OutOrStdout(), h)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), h)
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
