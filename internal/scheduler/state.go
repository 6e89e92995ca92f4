package scheduler

import (
	"fmt"
	"time"
)

// Phase is where a destination stands in its per-cycle state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseCooling
	PhaseScanning
	PhasePosted
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseResolving: "resolving",
	PhaseCooling:   "cooling",
	PhaseScanning:  "scanning",
	PhasePosted:    "posted",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText renders the phase name in JSON output.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DestinationState is the scheduler's memory of one destination. It is
// created on first encounter and lives for the whole run.
type DestinationState struct {
	Name        string    `json:"name"`
	CommunityID int       `json:"community_id,omitempty"`
	Resolved    bool      `json:"resolved"`
	Cursor      int       `json:"cursor"`
	LastPublish time.Time `json:"last_publish,omitzero"`
	Phase       Phase     `json:"phase"`
	LastPosts   int       `json:"last_posts"`

	cursorSet bool
}

// Eligible reports whether a destination that last published at last may
// publish again at now.
func Eligible(last, now time.Time, interval time.Duration) bool {
	return last.IsZero() || now.Sub(last) > interval
}

// ResolveError is a failed destination lookup. The destination is skipped
// for the cycle and retried on the next one.
type ResolveError struct {
	Destination string
	Err         error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("scheduler: resolve %q: %v", e.Destination, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// PublishError is a failed publish. The article is not marked seen.
type PublishError struct {
	Destination string
	URL         string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("scheduler: publish %s to %q: %v", e.URL, e.Destination, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
