package feed

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	errs    []error
	calls   int
	entries []Entry
}

func (s *scriptedSource) Fetch(_ context.Context, _ string) ([]Entry, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return s.entries, nil
}

func noSleep(r *Retrying) *Retrying {
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func transportErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

func TestRetrying_ExhaustsAfterMaxRetries(t *testing.T) {
	src := &scriptedSource{errs: []error{transportErr(), transportErr(), transportErr(), transportErr()}}
	r := noSleep(NewRetrying(src, 3, time.Second))

	_, err := r.Fetch(context.Background(), "https://example.com/feed")
	require.Error(t, err)
	assert.Equal(t, 3, src.calls)
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.ErrorIs(t, err, syscall.ECONNRESET)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, "https://example.com/feed", fe.URL)
}

func TestRetrying_RecoversAfterTransientFailure(t *testing.T) {
	src := &scriptedSource{
		errs:    []error{transportErr()},
		entries: []Entry{{Title: "ok", Link: "https://example.com/ok"}},
	}
	var slept []time.Duration
	r := NewRetrying(src, 3, 5*time.Second)
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	entries, err := r.Fetch(context.Background(), "https://example.com/feed")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
}

func TestRetrying_PermanentErrorIsNotRetried(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("Failed to detect feed type")}}
	r := noSleep(NewRetrying(src, 3, time.Second))

	_, err := r.Fetch(context.Background(), "https://example.com/feed")
	require.Error(t, err)
	assert.Equal(t, 1, src.calls)
	assert.NotErrorIs(t, err, ErrFetchExhausted)
}

func TestRetrying_CancelledDuringDelay(t *testing.T) {
	src := &scriptedSource{errs: []error{transportErr(), transportErr(), transportErr()}}
	r := NewRetrying(src, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Fetch(ctx, "https://example.com/feed")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.calls)
}
