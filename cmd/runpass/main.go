// Command runpass executes exactly one queue processing pass and exits. It is
// meant to be invoked by a scheduler: a cron entry or a session-end hook.
//
// The exit code reflects whether the pass itself completed, not whether
// individual deliveries succeeded; failed deliveries are requeued or
// dead-lettered by the pass and are normal operation.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/happydotemdr/hookrelay/internal/app"
	"github.com/happydotemdr/hookrelay/internal/config"
)

func main() {
	config.MustInit()

	a := app.MustNewApp()
	err := a.RunPassOnce(context.Background())
	a.Close()

	if err != nil {
		slog.Error("Queue pass failed", "error", err)
		os.Exit(1)
	}
}
