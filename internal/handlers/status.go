package handlers

import (
	"net/http"
	"strconv"

	"github.com/Saul-Punybz/feedrelay/internal/ledger"
	"github.com/Saul-Punybz/feedrelay/internal/poller"
	"github.com/Saul-Punybz/feedrelay/internal/scheduler"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

// DestinationLister exposes scheduler state.
type DestinationLister interface {
	Snapshot() []scheduler.DestinationState
}

// LedgerReader exposes the dedup ledger.
type LedgerReader interface {
	Len() int
	Recent(n int) []ledger.Record
}

// StatusHandler serves read-only views of the running relay.
type StatusHandler struct {
	Scheduler DestinationLister
	Ledger    LedgerReader
	Groups    []poller.Group
}

// Health handles GET /api/health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"ledger_urls": h.Ledger.Len(),
	})
}

// ListDestinations handles GET /api/destinations.
func (h *StatusHandler) ListDestinations(w http.ResponseWriter, r *http.Request) {
	states := h.Scheduler.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"destinations": states,
		"count":        len(states),
	})
}

// ListFeeds handles GET /api/feeds.
func (h *StatusHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	groups := h.Groups
	if groups == nil {
		groups = []poller.Group{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// ListLedger handles GET /api/ledger?limit=N, newest first.
func (h *StatusHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	records := h.Ledger.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
		"total":   h.Ledger.Len(),
	})
}
