// Package scheduler decides, per destination and per cycle, whether to
// publish and which feed entries to publish. Each destination keeps a
// round-robin cursor over its feeds, its resolved community id and the
// time of its last publication.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Saul-Punybz/feedrelay/internal/feed"
	"github.com/Saul-Punybz/feedrelay/internal/keywords"
	"github.com/Saul-Punybz/feedrelay/internal/ledger"
)

// Resolver maps a destination name to its community id.
type Resolver interface {
	ResolveCommunity(ctx context.Context, name string) (int, error)
}

// Publisher creates a link post in a community.
type Publisher interface {
	Publish(ctx context.Context, communityID int, title, link string) error
}

// Options are the scheduler's caps and pacing knobs.
type Options struct {
	// Simultaneous is the most posts one destination makes per scan.
	Simultaneous int
	// MaxPostsPerCycle is the cycle-wide cap across all destinations.
	MaxPostsPerCycle int
	// FixedInterval overrides the randomized pacing interval when > 0.
	FixedInterval time.Duration
	MinInterval   time.Duration
	MaxInterval   time.Duration
	// RandomStart places each destination's first cursor at a random feed.
	RandomStart bool

	Now  func() time.Time
	Rand *rand.Rand
}

// DefaultOptions returns one post per destination, two per cycle and an
// 11 to 23 minute pacing window.
func DefaultOptions() Options {
	return Options{
		Simultaneous:     1,
		MaxPostsPerCycle: 2,
		MinInterval:      DefaultMinInterval,
		MaxInterval:      DefaultMaxInterval,
		RandomStart:      true,
	}
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Resolver  Resolver
	Publisher Publisher
	Source    feed.Source
	Store     *ledger.Store
	// Matcher filters entries on title and summary. Nil disables filtering.
	Matcher *keywords.Matcher
}

// Outcome reports one ScanDestination call.
type Outcome struct {
	Destination string
	Phase       Phase
	Posts       int
	// Visited lists the feed URLs fetched, in visit order.
	Visited []string
	Err     error
}

// Scheduler owns every DestinationState.
type Scheduler struct {
	deps  Deps
	opts  Options
	pacer *Pacer
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*DestinationState
	order  []string
}

// New creates a Scheduler. Zero caps fall back to DefaultOptions.
func New(deps Deps, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.Simultaneous <= 0 {
		opts.Simultaneous = def.Simultaneous
	}
	if opts.MaxPostsPerCycle <= 0 {
		opts.MaxPostsPerCycle = def.MaxPostsPerCycle
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = def.MinInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = def.MaxInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		deps:   deps,
		opts:   opts,
		pacer:  NewPacer(opts.FixedInterval, opts.MinInterval, opts.MaxInterval, opts.Rand),
		now:    opts.Now,
		states: make(map[string]*DestinationState),
	}
}

// Pacer returns the interval source shared with the poll loop.
func (s *Scheduler) Pacer() *Pacer { return s.pacer }

// NewBudget returns a Budget sized to the cycle-wide cap.
func (s *Scheduler) NewBudget() *Budget { return NewBudget(s.opts.MaxPostsPerCycle) }

// Snapshot copies every destination state in order of first appearance.
func (s *Scheduler) Snapshot() []DestinationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DestinationState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.states[name])
	}
	return out
}

func (s *Scheduler) state(name string) *DestinationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[name]
	if !ok {
		st = &DestinationState{Name: name}
		s.states[name] = st
		s.order = append(s.order, name)
	}
	return st
}

func (s *Scheduler) update(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

// ScanDestination runs one cycle for a destination over its feeds, drawing
// posts from budget.
func (s *Scheduler) ScanDestination(ctx context.Context, name string, feeds []string, budget *Budget) Outcome {
	st := s.state(name)
	out := Outcome{Destination: name}

	s.mu.Lock()
	resolved, communityID := st.Resolved, st.CommunityID
	s.mu.Unlock()

	if !resolved {
		s.update(func() { st.Phase = PhaseResolving })
		id, err := s.deps.Resolver.ResolveCommunity(ctx, name)
		if err != nil {
			out.Err = &ResolveError{Destination: name, Err: err}
			out.Phase = PhaseIdle
			s.update(func() { st.Phase = PhaseIdle })
			slog.Error("scheduler: resolve destination failed", "destination", name, "err", err)
			return out
		}
		communityID = id
		s.update(func() {
			st.CommunityID = id
			st.Resolved = true
		})
		slog.Debug("scheduler: destination resolved", "destination", name, "community_id", id)
	}

	if len(feeds) == 0 {
		out.Phase = PhaseCooling
		s.update(func() { st.Phase = PhaseCooling })
		return out
	}

	var cursor int
	var last time.Time
	s.update(func() {
		if !st.cursorSet {
			if s.opts.RandomStart {
				st.Cursor = s.pacer.intN(len(feeds))
			}
			st.cursorSet = true
		}
		st.Cursor %= len(feeds)
		st.Phase = PhaseCooling
		cursor, last = st.Cursor, st.LastPublish
	})

	interval := s.pacer.Interval()
	if !Eligible(last, s.now(), interval) {
		out.Phase = PhaseCooling
		slog.Debug("scheduler: destination cooling down",
			"destination", name,
			"last_publish", last.Format(time.RFC3339),
			"interval", interval,
		)
		return out
	}
	if budget.Exhausted() {
		out.Phase = PhaseCooling
		slog.Debug("scheduler: cycle post cap reached", "destination", name)
		return out
	}

	s.update(func() { st.Phase = PhaseScanning })

	for checked := 0; checked < len(feeds); checked++ {
		if out.Posts >= s.opts.Simultaneous || budget.Exhausted() || ctx.Err() != nil {
			break
		}

		feedURL := feeds[cursor]
		out.Visited = append(out.Visited, feedURL)

		entries, err := s.deps.Source.Fetch(ctx, feedURL)
		if err != nil {
			slog.Error("scheduler: fetch feed failed", "destination", name, "feed", feedURL, "err", err)
		} else {
			out.Posts += s.publishEntries(ctx, st, communityID, entries, s.opts.Simultaneous-out.Posts, budget)
		}

		cursor = (cursor + 1) % len(feeds)
		s.update(func() { st.Cursor = cursor })
	}

	out.Phase = PhasePosted
	if out.Posts == 0 {
		out.Phase = PhaseCooling
		slog.Info("scheduler: no matching articles", "destination", name)
	}
	s.update(func() {
		st.Phase = out.Phase
		st.LastPosts = out.Posts
	})
	return out
}

// publishEntries walks entries in feed order and publishes up to remaining
// of them. It returns the number published.
func (s *Scheduler) publishEntries(ctx context.Context, st *DestinationState, communityID int, entries []feed.Entry, remaining int, budget *Budget) int {
	posted := 0
	for _, e := range entries {
		if posted >= remaining || ctx.Err() != nil {
			break
		}
		if e.Title == "" || e.Link == "" {
			continue
		}
		if s.deps.Store.IsSeenArticle(e.Link, e.Title) {
			continue
		}
		if s.deps.Matcher != nil {
			term, ok := s.deps.Matcher.Match(e.Title + " " + e.Summary)
			if !ok {
				slog.Debug("scheduler: no keyword match", "title", e.Title)
				continue
			}
			if term != "" {
				slog.Debug("scheduler: keyword matched", "title", e.Title, "keyword", term)
			}
		}

		if !budget.Reserve() {
			break
		}
		if !s.deps.Store.Claim(e.Link) {
			budget.Refund()
			continue
		}

		if s.publish(ctx, st, communityID, e) {
			posted++
		} else {
			budget.Refund()
		}
		s.deps.Store.Release(e.Link)
	}
	return posted
}

func (s *Scheduler) publish(ctx context.Context, st *DestinationState, communityID int, e feed.Entry) bool {
	if err := s.deps.Publisher.Publish(ctx, communityID, e.Title, e.Link); err != nil {
		perr := &PublishError{Destination: st.Name, URL: e.Link, Err: err}
		slog.Error("scheduler: publish failed", "destination", st.Name, "title", e.Title, "err", perr)
		return false
	}

	if err := s.deps.Store.Record(ctx, e.Link, e.Title, st.Name); err != nil {
		slog.Error("scheduler: record publication, will retry on next write",
			"url", e.Link,
			"pending", s.deps.Store.Pending(),
			"err", err,
		)
	}
	s.update(func() { st.LastPublish = s.now() })

	slog.Info("scheduler: posted", "title", e.Title, "url", e.Link, "destination", st.Name)
	return true
}
