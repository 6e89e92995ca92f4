package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example</title>
    <item>
      <title> Climate summit begins </title>
      <link>https://example.com/climate</link>
      <description>Leaders gather.</description>
    </item>
    <item>
      <title>Second</title>
      <link>https://example.com/second</link>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Atom</title>
  <entry>
    <title>Atom entry</title>
    <link href="https://example.com/atom"/>
    <summary>Short summary</summary>
    <id>urn:1</id>
    <updated>2026-01-01T00:00:00Z</updated>
  </entry>
</feed>`

func TestGofeedSource_FetchRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, feedUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	entries, err := NewGofeedSource(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Title: "Climate summit begins", Link: "https://example.com/climate", Summary: "Leaders gather."}, entries[0])
	assert.Equal(t, "Second", entries[1].Title)
}

func TestGofeedSource_FetchAtom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer srv.Close()

	limiter := NewHostLimiter(time.Millisecond)
	entries, err := NewGofeedSource(srv.Client(), limiter).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://example.com/atom", entries[0].Link)
	assert.Equal(t, "Short summary", entries[0].Summary)
}

func TestGofeedSource_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewGofeedSource(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGofeedSource_NotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewGofeedSource(srv.Client(), nil).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestHostLimiter_RejectsURLWithoutHost(t *testing.T) {
	err := NewHostLimiter(time.Second).Wait(context.Background(), "/relative/path")
	assert.ErrorIs(t, err, errMissingHost)
	assert.False(t, IsTransient(err))
}
