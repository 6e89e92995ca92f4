// Package feed fetches RSS, Atom and JSON feeds and retries transport
// failures a bounded number of times.
package feed

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	feedUserAgent = "feedrelay/1.0 (+https://github.com/Saul-Punybz/feedrelay)"
	feedTimeout   = 30 * time.Second
)

// Entry is one feed item as seen by the scheduler.
type Entry struct {
	Title   string
	Link    string
	Summary string
}

// Source fetches the entries of a feed in feed order.
type Source interface {
	Fetch(ctx context.Context, feedURL string) ([]Entry, error)
}

// GofeedSource fetches feeds over HTTP and parses them with gofeed.
type GofeedSource struct {
	client  *http.Client
	limiter *HostLimiter
}

// NewGofeedSource returns a Source using client. A nil limiter disables
// per-host pacing.
func NewGofeedSource(client *http.Client, limiter *HostLimiter) *GofeedSource {
	if client == nil {
		client = NewHTTPClient()
	}
	return &GofeedSource{client: client, limiter: limiter}
}

// Fetch downloads and parses feedURL.
func (s *GofeedSource) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, feedURL); err != nil {
			return nil, fmt.Errorf("feed: rate limit %s: %w", feedURL, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = s.client
	fp.UserAgent = feedUserAgent

	parsed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", feedURL, err)
	}

	return toEntries(parsed), nil
}

func toEntries(f *gofeed.Feed) []Entry {
	entries := make([]Entry, 0, len(f.Items))
	for _, item := range f.Items {
		if item == nil {
			continue
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		entries = append(entries, Entry{
			Title:   strings.TrimSpace(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Summary: plainText(summary),
		})
	}
	return entries
}

// NewHTTPClient returns the client used for feed downloads.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   feedTimeout,
	}
}
