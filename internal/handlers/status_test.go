package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Saul-Punybz/feedrelay/internal/ledger"
	"github.com/Saul-Punybz/feedrelay/internal/poller"
	"github.com/Saul-Punybz/feedrelay/internal/scheduler"
)

type stubScheduler []scheduler.DestinationState

func (s stubScheduler) Snapshot() []scheduler.DestinationState { return s }

type stubLedger struct {
	records []ledger.Record
	asked   int
}

func (l *stubLedger) Len() int { return len(l.records) }

func (l *stubLedger) Recent(n int) []ledger.Record {
	l.asked = n
	if n > len(l.records) {
		n = len(l.records)
	}
	return l.records[:n]
}

func newTestRouter() (http.Handler, *stubLedger) {
	posted := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	lg := &stubLedger{records: []ledger.Record{
		{ID: uuid.New(), PostedAt: posted, Title: "Second", URL: "https://example.com/2", Destination: "technology"},
		{ID: uuid.New(), PostedAt: posted.Add(-time.Hour), Title: "First", URL: "https://example.com/1", Destination: "technology"},
	}}
	h := &StatusHandler{
		Scheduler: stubScheduler{
			{Name: "technology", CommunityID: 3, Resolved: true, Cursor: 1, LastPublish: posted, Phase: scheduler.PhasePosted, LastPosts: 1},
		},
		Ledger: lg,
		Groups: []poller.Group{{Destination: "technology", Feeds: []string{"https://a.example/rss"}}},
	}
	return NewRouter(h), lg
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestStatus_Health(t *testing.T) {
	router, _ := newTestRouter()

	rec, body := get(t, router, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["ledger_urls"])
}

func TestStatus_ListDestinations(t *testing.T) {
	router, _ := newTestRouter()

	rec, body := get(t, router, "/api/destinations")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	dests := body["destinations"].([]any)
	first := dests[0].(map[string]any)
	assert.Equal(t, "technology", first["name"])
	assert.Equal(t, "posted", first["phase"])
	assert.EqualValues(t, 1, first["cursor"])
}

func TestStatus_ListFeeds(t *testing.T) {
	router, _ := newTestRouter()

	rec, body := get(t, router, "/api/feeds")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestStatus_ListLedger(t *testing.T) {
	router, lg := newTestRouter()

	rec, body := get(t, router, "/api/ledger?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 2, body["total"])
	records := body["records"].([]any)
	assert.Equal(t, "Second", records[0].(map[string]any)["title"])

	_, _ = get(t, router, "/api/ledger?limit=5000")
	assert.Equal(t, maxLedgerLimit, lg.asked)

	_, _ = get(t, router, "/api/ledger")
	assert.Equal(t, defaultLedgerLimit, lg.asked)
}

func TestStatus_ListLedgerRejectsBadLimit(t *testing.T) {
	router, _ := newTestRouter()

	rec, body := get(t, router, "/api/ledger?limit=abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "limit")
}

func TestStatus_SnakeCaseFieldsAndUnsetLastPublish(t *testing.T) {
	h := &StatusHandler{
		Scheduler: stubScheduler{{Name: "world", Phase: scheduler.PhaseIdle}},
		Ledger:    &stubLedger{},
		Groups:    []poller.Group{{Destination: "world", Feeds: []string{"https://b.example/rss"}}},
	}
	router := NewRouter(h)

	_, body := get(t, router, "/api/feeds")
	group := body["groups"].([]any)[0].(map[string]any)
	assert.Equal(t, "world", group["destination"])
	assert.Equal(t, []any{"https://b.example/rss"}, group["feeds"])
	assert.NotContains(t, group, "Destination")

	_, body = get(t, router, "/api/destinations")
	dest := body["destinations"].([]any)[0].(map[string]any)
	assert.Equal(t, "idle", dest["phase"])
	assert.NotContains(t, dest, "last_publish")
}
