// Package poller drives the publish cycle: it groups feeds by destination,
// hands each group to the scheduler, prunes the ledger on a fixed cadence
// and sleeps between cycles.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Saul-Punybz/feedrelay/internal/config"
	"github.com/Saul-Punybz/feedrelay/internal/ledger"
	"github.com/Saul-Punybz/feedrelay/internal/scheduler"
)

// Scanner runs one destination for one cycle.
type Scanner interface {
	ScanDestination(ctx context.Context, name string, feeds []string, budget *scheduler.Budget) scheduler.Outcome
	NewBudget() *scheduler.Budget
}

// Pruner removes ledger records older than a duration.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// Intervaler yields the target cycle interval.
type Intervaler interface {
	Interval() time.Duration
}

// Group is the ordered feed list of one destination.
type Group struct {
	Destination string   `json:"destination"`
	Feeds       []string `json:"feeds"`
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Posts   int
	Elapsed time.Duration
	Sleep   time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithSleep overrides the between-cycle wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// WithPruneSchedule overrides the ledger maintenance cadence.
func WithPruneSchedule(s cron.Schedule) Option {
	return func(l *Loop) { l.pruneSchedule = s }
}

// Loop is the top-level driver. It runs one cycle at a time.
type Loop struct {
	groups   []Group
	disabled []config.FeedConfig
	scanner  Scanner
	pruner   Pruner
	pacer    Intervaler

	pruneSchedule cron.Schedule
	nextPrune     time.Time
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// New creates a Loop over feeds. Disabled feeds are left out of every cycle
// and logged at the start of each one.
func New(feeds []config.FeedConfig, scanner Scanner, pruner Pruner, pacer Intervaler, opts ...Option) *Loop {
	l := &Loop{
		groups:        GroupFeeds(feeds),
		disabled:      DisabledFeeds(feeds),
		scanner:       scanner,
		pruner:        pruner,
		pacer:         pacer,
		pruneSchedule: cron.Every(ledger.Retention),
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Groups returns the destination groups in order of first appearance.
func (l *Loop) Groups() []Group { return l.groups }

// Run prunes once, then cycles until ctx is cancelled. It returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("poller: starting", "destinations", len(l.groups))

	l.prune(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res := l.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if res.Posts == 0 {
			slog.Info("poller: no new posts made", "sleep", res.Sleep.Round(time.Second))
		} else {
			slog.Info("poller: cycle complete",
				"posts", res.Posts,
				"elapsed", res.Elapsed.Round(time.Millisecond),
				"sleep", res.Sleep.Round(time.Second),
			)
		}

		if err := l.sleep(ctx, res.Sleep); err != nil {
			return nil
		}
	}
}

// RunCycle performs one pass over every destination group.
func (l *Loop) RunCycle(ctx context.Context) CycleResult {
	start := l.now()

	if !l.now().Before(l.nextPrune) {
		l.prune(ctx)
	}

	for _, f := range l.disabled {
		slog.Info("poller: skipping disabled feed", "feed", f.FeedURL, "destination", f.Destination)
	}

	budget := l.scanner.NewBudget()
	posts := 0
	for _, g := range l.groups {
		if ctx.Err() != nil {
			break
		}
		out := l.scanner.ScanDestination(ctx, g.Destination, g.Feeds, budget)
		posts += out.Posts
	}

	elapsed := l.now().Sub(start)
	return CycleResult{
		Posts:   posts,
		Elapsed: elapsed,
		Sleep:   SleepDuration(posts, l.pacer.Interval(), elapsed),
	}
}

// prune runs ledger maintenance. The next slot is scheduled only after a
// successful prune, so a failure is retried on the next cycle.
func (l *Loop) prune(ctx context.Context) {
	if _, err := l.pruner.Prune(ctx, ledger.Retention); err != nil {
		slog.Error("poller: ledger prune failed, retrying next cycle", "err", err)
		return
	}
	l.nextPrune = l.pruneSchedule.Next(l.now())
	slog.Debug("poller: next ledger prune", "at", l.nextPrune.Format(time.RFC3339))
}

// GroupFeeds groups enabled feeds by destination in order of first
// appearance.
func GroupFeeds(feeds []config.FeedConfig) []Group {
	var groups []Group
	index := make(map[string]int)

	for _, f := range feeds {
		if !f.IsEnabled() {
			continue
		}
		i, ok := index[f.Destination]
		if !ok {
			i = len(groups)
			index[f.Destination] = i
			groups = append(groups, Group{Destination: f.Destination})
		}
		groups[i].Feeds = append(groups[i].Feeds, f.FeedURL)
	}
	return groups
}

// DisabledFeeds returns the feeds switched off in the configuration.
func DisabledFeeds(feeds []config.FeedConfig) []config.FeedConfig {
	var out []config.FeedConfig
	for _, f := range feeds {
		if !f.IsEnabled() {
			out = append(out, f)
		}
	}
	return out
}

// SleepDuration is the wait before the next cycle: the full interval when
// nothing was posted, otherwise what remains of it after elapsed.
func SleepDuration(posts int, interval, elapsed time.Duration) time.Duration {
	if posts == 0 {
		return interval
	}
	return max(interval-elapsed, 0)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
