package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tracksched/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}

		reason := app.StopSIGTERM
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}
