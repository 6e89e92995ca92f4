// Command worker relays RSS and Atom entries that match a keyword list to
// Lemmy communities. Each community is paced independently and every
// published link is recorded in a ledger so it is never posted twice.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Saul-Punybz/feedrelay/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		slog.Error("worker: configuration error", "err", err)
	} else {
		slog.Error("worker: fatal", "err", err)
	}
	stop()
	os.Exit(1)
}
