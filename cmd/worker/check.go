package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Saul-Punybz/feedrelay/internal/poller"
)

// runCheck validates every startup input against the live instance without
// fetching or publishing anything.
func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	in, err := loadInputs(cmd)
	if err != nil {
		return err
	}

	if err := in.session.Login(ctx); err != nil {
		return fmt.Errorf("check: login: %w", err)
	}

	groups := poller.GroupFeeds(in.feeds)
	failed := 0
	for _, g := range groups {
		id, err := in.session.ResolveCommunity(ctx, g.Destination)
		if err != nil {
			failed++
			slog.Error("check: community not resolved", "community", g.Destination, "err", err)
			continue
		}
		slog.Info("check: community ok", "community", g.Destination, "id", id, "feeds", len(g.Feeds))
	}

	if failed > 0 {
		return fmt.Errorf("check: %d of %d communities could not be resolved", failed, len(groups))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d feeds, %d communities, %d keywords\n",
		len(in.feeds), len(groups), len(in.matcher.Terms()))
	return nil
}
