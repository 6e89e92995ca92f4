package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	// DefaultMaxRetries is the number of fetch attempts per feed per cycle.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the pause between attempts.
	DefaultRetryDelay = 5 * time.Second
)

// ErrFetchExhausted marks a feed that failed on every attempt.
var ErrFetchExhausted = errors.New("feed: retries exhausted")

// FetchError is returned by Retrying when a feed could not be fetched.
// Callers skip the feed for this cycle.
type FetchError struct {
	URL       string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("feed: failed to fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("feed: failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Exhausted {
		return []error{ErrFetchExhausted, e.Err}
	}
	return []error{e.Err}
}

// Retrying wraps a Source and retries transport failures with a fixed delay.
type Retrying struct {
	source     Source
	maxRetries int
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRetrying returns a Source making at most maxRetries attempts per fetch.
func NewRetrying(source Source, maxRetries int, delay time.Duration) *Retrying {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Retrying{
		source:     source,
		maxRetries: maxRetries,
		delay:      delay,
		sleep:      sleepCtx,
	}
}

// Fetch calls the wrapped source until it succeeds, fails with a
// non-transport error, or runs out of attempts.
func (r *Retrying) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		entries, err := r.source.Fetch(ctx, feedURL)
		if err == nil {
			return entries, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, &FetchError{URL: feedURL, Attempts: attempt, Err: err}
		}

		lastErr = err
		slog.Error("feed: fetch failed",
			"url", feedURL,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"err", err,
		)

		if attempt < r.maxRetries {
			if err := r.sleep(ctx, r.delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &FetchError{URL: feedURL, Attempts: r.maxRetries, Exhausted: true, Err: lastErr}
}

// IsTransient reports whether err is a transport-level failure worth
// retrying: network errors, dropped connections and 5xx or 429 responses.
func IsTransient(err error) bool {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
