package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Chative-docs-assistant/server/internal/app"
	errx "github.com/Chative-docs-assistant/server/internal/core/error"
	logx "github.com/Chative-docs-assistant/server/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	envFile string
	userID  string
	pretty  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Documentation assistant backed by per-user sessions",
	Long: `A documentation assistant that answers questions about a product's docs.

Each user has a persistent session holding their conversation history,
preferences, usage analytics, a cost ledger and an error log. Replies are
produced by a Gemini chat model, optionally grounded with passages from a
local vector store.

Quick Start:
  server chat --user alice "How do I schedule a task?"
  server history --user alice --pretty
  server health`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		msg := err.Error()
		var appErr *errx.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "anonymous", "User whose session the command acts on")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Render human-readable output instead of JSON")
}

// openApp loads configuration, initialises logging on the command's stderr and
// wires the assistant. Callers must Close the returned App.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := app.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Output: cmd.ErrOrStderr()})

	return app.New(cmd.Context(), cfg)
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logx.Warn().Err(err).Msg("failed to close storage")
		}
	}()
	return fn(a)
}
