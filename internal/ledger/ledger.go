// Package ledger is the durable record of published articles. It is the
// source of truth for deduplication across restarts and is pruned by age.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Retention is how long published records are kept before pruning.
const Retention = 48 * time.Hour

// recentLimit bounds the in-memory list served by Recent.
const recentLimit = 200

// Record is one successful publication.
type Record struct {
	ID          uuid.UUID `json:"id"`
	PostedAt    time.Time `json:"posted_at"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Destination string    `json:"destination"`
	// Legacy marks records read from the old human-readable log format.
	Legacy bool `json:"-"`
}

// Journal persists records. Implementations must be append-only apart from
// Prune, which removes records posted before cutoff and returns them.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	Load(ctx context.Context) (LoadResult, error)
	Prune(ctx context.Context, cutoff time.Time) ([]Record, error)
}

// LoadResult is the outcome of rehydrating a journal. Unparseable lines are
// reported as warnings, never as a load failure.
type LoadResult struct {
	Records  []Record
	Warnings []ParseWarning
}

// ParseWarning describes a journal line that was skipped during load.
type ParseWarning struct {
	Line int
	Text string
	Err  error
}

func (w ParseWarning) Error() string {
	return fmt.Sprintf("ledger: line %d: %v", w.Line, w.Err)
}

// Archiver receives records removed by Prune.
type Archiver interface {
	Archive(ctx context.Context, recs []Record) error
}

// Option configures a Store.
type Option func(*Store)

// WithArchiver sends pruned records to a.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithClock overrides the time source used for new records and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the in-memory dedup index over a Journal.
type Store struct {
	journal  Journal
	archiver Archiver
	now      func() time.Time

	mu      sync.RWMutex
	urls    map[string]string
	titles  map[string]struct{}
	claims  map[string]struct{}
	recent  []Record
	pending []Record

	// flushMu serializes journal writes so pending records keep their order.
	flushMu sync.Mutex
}

// Open rehydrates a Store from every record in journal.
func Open(ctx context.Context, journal Journal, opts ...Option) (*Store, error) {
	s := &Store{
		journal: journal,
		now:     time.Now,
		urls:    make(map[string]string),
		titles:  make(map[string]struct{}),
		claims:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	res, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load: %w", err)
	}

	for _, w := range res.Warnings {
		slog.Debug("ledger: skipped line", "line", w.Line, "err", w.Err)
	}
	if len(res.Warnings) > 0 {
		slog.Warn("ledger: skipped unparseable lines", "count", len(res.Warnings))
	}

	for _, rec := range res.Records {
		s.index(rec)
	}

	slog.Info("ledger: loaded", "records", len(res.Records), "urls", len(s.urls))
	return s, nil
}

// index adds rec to the lookup maps. Callers hold mu or own s exclusively.
func (s *Store) index(rec Record) {
	if rec.URL != "" {
		s.urls[rec.URL] = rec.Title
	}
	if rec.Legacy && rec.Title != "" && !isAbsoluteURL(rec.URL) {
		s.titles[rec.Title] = struct{}{}
	}
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

// IsSeen reports whether an article with this URL has been published.
func (s *Store) IsSeen(link string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.urls[link]
	return ok
}

// IsSeenArticle checks the URL and, for legacy records without a usable URL,
// the title.
func (s *Store) IsSeenArticle(link, title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.urls[link]; ok {
		return true
	}
	_, ok := s.titles[title]
	return ok
}

// Claim reserves link for publication. It returns false when the link is
// already seen or claimed, so two concurrent scans never publish one URL.
func (s *Store) Claim(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[link]; ok {
		return false
	}
	if _, ok := s.claims[link]; ok {
		return false
	}
	s.claims[link] = struct{}{}
	return true
}

// Release drops a claim taken with Claim.
func (s *Store) Release(link string) {
	s.mu.Lock()
	delete(s.claims, link)
	s.mu.Unlock()
}

// Record marks link as published and appends it to the journal. The article
// is seen as soon as Record returns. If the journal write fails the record
// stays pending and is written by the next Record, Prune or Flush.
func (s *Store) Record(ctx context.Context, link, title, destination string) error {
	rec := Record{
		ID:          uuid.New(),
		PostedAt:    s.now().UTC(),
		Title:       title,
		URL:         link,
		Destination: destination,
	}

	s.mu.Lock()
	s.index(rec)
	s.pending = append(s.pending, rec)
	s.mu.Unlock()

	return s.Flush(ctx)
}

// Flush appends every pending record to the journal, oldest first. It stops
// at the first failure and keeps the rest pending.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, rec := range batch {
		if err := s.journal.Append(ctx, rec); err != nil {
			s.mu.Lock()
			s.pending = append(append([]Record(nil), batch[i:]...), s.pending...)
			s.mu.Unlock()
			return fmt.Errorf("ledger: append: %w", err)
		}
	}
	return nil
}

// Pending returns the number of records not yet in the journal.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Prune removes journal records older than olderThan. The in-memory index is
// left untouched; it only shrinks on the next Open.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := s.Flush(ctx); err != nil {
		slog.Warn("ledger: pending records not written before prune", "pending", s.Pending(), "err", err)
	}

	cutoff := s.now().Add(-olderThan)

	removed, err := s.journal.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}

	if s.archiver != nil && len(removed) > 0 {
		if err := s.archiver.Archive(ctx, removed); err != nil {
			slog.Error("ledger: archive pruned records", "count", len(removed), "err", err)
		}
	}

	slog.Info("ledger: pruned", "removed", len(removed), "cutoff", cutoff.Format(time.RFC3339))
	return len(removed), nil
}

// Len returns the number of distinct URLs in the index.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

// Recent returns up to n of the most recently indexed records, newest first.
func (s *Store) Recent(n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]Record, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
