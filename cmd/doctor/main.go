package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"telegram-relay/internal/app"
	"telegram-relay/internal/config"
	"telegram-relay/internal/diagnostics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "doctor",
		Short:        "Operational checks for the Telegram relay",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("env-file", "", "Optional .env file to load before reading configuration.")
	cmd.PersistentFlags().Duration("timeout", 15*time.Second, "Overall timeout for remote calls.")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("env-file")
		if path == "" {
			_ = godotenv.Load()
			return nil
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newSetWebhookCmd())
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report configuration presence and reachability of the store, OpenRouter and Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			return runCheck(ctx, cmd.OutOrStdout())
		},
	}
}

func runCheck(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		_, _ = diagnostics.Env(nil).WriteTo(out)
		return err
	}

	a, err := app.New(ctx, cfg, quietLogger())
	if err != nil {
		_, _ = diagnostics.Env(nil).WriteTo(out)
		return err
	}
	defer func() { _ = a.Close() }()

	deps := diagnostics.Deps{
		Config: cfg,
		Store:  a.Store,
		Models: a.OpenRouter,
		Bot:    a.Telegram,
	}
	if a.Params != nil {
		deps.Params = a.Params
		deps.ParamNames = []string{app.OpenRouterTokenParam, app.TelegramTokenParam}
	}

	report, err := diagnostics.Run(ctx, deps)
	if err != nil {
		return err
	}
	if _, err := report.WriteTo(out); err != nil {
		return err
	}
	if !report.OK() {
		return errors.New("one or more checks failed")
	}
	return nil
}

func newSetWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-webhook URL",
		Short: "Point the bot's webhook at URL, restricted to message updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, quietLogger())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Telegram.SetWebhook(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", args[0])
			return nil
		},
	}
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
