package poller

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saul-Punybz/feedrelay/internal/config"
	"github.com/Saul-Punybz/feedrelay/internal/scheduler"
)

type scan struct {
	destination string
	feeds       []string
}

type fakeScanner struct {
	mu       sync.Mutex
	scans    []scan
	postsFor map[string]int
	limit    int
	advance  func()
}

func (f *fakeScanner) NewBudget() *scheduler.Budget { return scheduler.NewBudget(f.limit) }

func (f *fakeScanner) ScanDestination(_ context.Context, name string, feeds []string, budget *scheduler.Budget) scheduler.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, scan{destination: name, feeds: feeds})
	if f.advance != nil {
		f.advance()
	}
	out := scheduler.Outcome{Destination: name}
	for range f.postsFor[name] {
		if !budget.Reserve() {
			break
		}
		out.Posts++
	}
	return out
}

type fakePruner struct {
	calls int
	err   error
	// failures is how many calls fail before the pruner starts succeeding.
	failures int
}

func (p *fakePruner) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	p.calls++
	if p.failures > 0 {
		p.failures--
		return 0, errors.New("disk full")
	}
	return 0, p.err
}

type fixedInterval time.Duration

func (f fixedInterval) Interval() time.Duration { return time.Duration(f) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func enabled(v bool) *bool { return &v }

func testFeeds() []config.FeedConfig {
	return []config.FeedConfig{
		{FeedURL: "https://a.example/rss", Destination: "technology"},
		{FeedURL: "https://b.example/rss", Destination: "world"},
		{FeedURL: "https://c.example/rss", Destination: "technology"},
		{FeedURL: "https://d.example/rss", Destination: "world", Enabled: enabled(false)},
		{FeedURL: "https://e.example/rss", Destination: "science", Enabled: enabled(true)},
	}
}

func TestGroupFeeds_OrderOfFirstAppearanceSkipsDisabled(t *testing.T) {
	groups := GroupFeeds(testFeeds())

	assert.Equal(t, []Group{
		{Destination: "technology", Feeds: []string{"https://a.example/rss", "https://c.example/rss"}},
		{Destination: "world", Feeds: []string{"https://b.example/rss"}},
		{Destination: "science", Feeds: []string{"https://e.example/rss"}},
	}, groups)
}

func TestSleepDuration(t *testing.T) {
	tests := []struct {
		name     string
		posts    int
		interval time.Duration
		elapsed  time.Duration
		want     time.Duration
	}{
		{"no posts sleeps full interval", 0, 15 * time.Minute, 4 * time.Minute, 15 * time.Minute},
		{"posts subtract elapsed work", 2, 15 * time.Minute, 4 * time.Minute, 11 * time.Minute},
		{"overrun clamps to zero", 1, 15 * time.Minute, 20 * time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SleepDuration(tt.posts, tt.interval, tt.elapsed))
		})
	}
}

func TestLoop_RunCycleSharesBudgetAcrossDestinations(t *testing.T) {
	c := &clock{t: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
	scanner := &fakeScanner{
		limit:    2,
		postsFor: map[string]int{"technology": 1, "world": 3, "science": 3},
		advance:  func() { c.t = c.t.Add(time.Minute) },
	}
	l := New(testFeeds(), scanner, &fakePruner{}, fixedInterval(15*time.Minute), WithClock(c.now))

	res := l.RunCycle(context.Background())

	assert.Equal(t, 2, res.Posts)
	assert.Equal(t, 3*time.Minute, res.Elapsed)
	assert.Equal(t, 12*time.Minute, res.Sleep)
	require.Len(t, scanner.scans, 3)
	assert.Equal(t, "technology", scanner.scans[0].destination)
	assert.Equal(t, []string{"https://a.example/rss", "https://c.example/rss"}, scanner.scans[0].feeds)
}

func TestLoop_PrunesAtStartupAndEvery48Hours(t *testing.T) {
	c := &clock{t: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{}
	l := New(testFeeds(), &fakeScanner{limit: 2}, pruner, fixedInterval(15*time.Minute), WithClock(c.now))
	ctx := context.Background()

	l.prune(ctx)
	assert.Equal(t, 1, pruner.calls)

	c.t = c.t.Add(47 * time.Hour)
	l.RunCycle(ctx)
	assert.Equal(t, 1, pruner.calls)

	c.t = c.t.Add(time.Hour)
	l.RunCycle(ctx)
	assert.Equal(t, 2, pruner.calls)

	c.t = c.t.Add(time.Hour)
	l.RunCycle(ctx)
	assert.Equal(t, 2, pruner.calls)
}

func TestLoop_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scanner := &fakeScanner{limit: 2}
	pruner := &fakePruner{err: errors.New("disk full")}

	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 2 {
			cancel()
		}
		return ctx.Err()
	}
	l := New(testFeeds(), scanner, pruner, fixedInterval(15*time.Minute), WithSleep(sleep))

	require.NoError(t, l.Run(ctx))

	assert.Equal(t, []time.Duration{15 * time.Minute, 15 * time.Minute}, sleeps)
	assert.Len(t, scanner.scans, 6)
	assert.GreaterOrEqual(t, pruner.calls, 1)
}

func TestSleepCtx_AbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepCtx(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLoop_FailedPruneIsRetriedNextCycle(t *testing.T) {
	c := &clock{t: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{failures: 1}
	l := New(testFeeds(), &fakeScanner{limit: 2}, pruner, fixedInterval(15*time.Minute), WithClock(c.now))
	ctx := context.Background()

	l.prune(ctx)
	assert.Equal(t, 1, pruner.calls)

	c.t = c.t.Add(time.Hour)
	l.RunCycle(ctx)
	assert.Equal(t, 2, pruner.calls)

	for range 10 {
		c.t = c.t.Add(time.Hour)
		l.RunCycle(ctx)
	}
	assert.Equal(t, 2, pruner.calls)

	c.t = c.t.Add(48 * time.Hour)
	l.RunCycle(ctx)
	assert.Equal(t, 3, pruner.calls)
}

func TestLoop_LogsDisabledFeedsEveryCycle(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	l := New(testFeeds(), &fakeScanner{limit: 2}, &fakePruner{}, fixedInterval(15*time.Minute))
	assert.NotContains(t, buf.String(), "skipping disabled feed")

	l.RunCycle(context.Background())
	l.RunCycle(context.Background())

	assert.Equal(t, 2, strings.Count(buf.String(), "skipping disabled feed"))
	assert.Contains(t, buf.String(), "https://d.example/rss")
}

func TestDisabledFeeds(t *testing.T) {
	disabled := DisabledFeeds(testFeeds())

	require.Len(t, disabled, 1)
	assert.Equal(t, "https://d.example/rss", disabled[0].FeedURL)
}
