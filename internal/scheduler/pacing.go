package scheduler

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultMinInterval = 11 * time.Minute
	DefaultMaxInterval = 23 * time.Minute
)

// Pacer yields the pacing interval. A fixed interval is returned as is;
// otherwise every call draws a fresh whole-minute value in [minInterval,
// maxInterval], so
// two checks of the same destination may see different intervals.
type Pacer struct {
	fixed time.Duration
	min   int
	max   int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPacer creates a Pacer. A nil rnd uses a randomly seeded source.
func NewPacer(fixed, minInterval, maxInterval time.Duration, rnd *rand.Rand) *Pacer {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	lo, hi := int(minInterval/time.Minute), int(maxInterval/time.Minute)
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	return &Pacer{fixed: fixed, min: lo, max: hi, rnd: rnd}
}

// Fixed reports whether the interval is a configured constant.
func (p *Pacer) Fixed() bool { return p.fixed > 0 }

// Interval returns the interval for one check.
func (p *Pacer) Interval() time.Duration {
	if p.fixed > 0 {
		return p.fixed
	}
	p.mu.Lock()
	n := p.min + p.rnd.IntN(p.max-p.min+1)
	p.mu.Unlock()
	return time.Duration(n) * time.Minute
}

func (p *Pacer) intN(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.IntN(n)
}

// Budget is the cycle-wide post counter shared by every destination.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a Budget allowing limit posts.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Reserve takes one slot. It returns false when the budget is spent.
func (b *Budget) Reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Refund returns a slot taken by Reserve for a post that did not happen.
func (b *Budget) Refund() {
	b.mu.Lock()
	if b.used > 0 {
		b.used--
	}
	b.mu.Unlock()
}

// Exhausted reports whether no slots remain.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used >= b.limit
}

// Used returns the number of slots taken.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
