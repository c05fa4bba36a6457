package signals

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/sergioferragut/from-kafka-to-polaris/auth"
	"github.com/sergioferragut/from-kafka-to-polaris/sender"
)

const window = time.Minute

// Tracker keeps rolling windows of outcome timestamps.
type Tracker struct {
	mu    sync.Mutex
	clock clock.Clock

	delivered    []time.Time
	failures     []time.Time
	authFailures []time.Time
}

// New returns a Tracker. A nil clock means wall time.
func New(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clock: clk}
}

// Update records outcomes and returns the current signals.
func (t *Tracker) Update(outcomes ...sender.Outcome) Signals {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now().UTC()
	for _, o := range outcomes {
		if o.OK() {
			t.delivered = append(t.delivered, now)
			continue
		}
		t.failures = append(t.failures, now)
		if auth.IsAuthFailure(o) {
			t.authFailures = append(t.authFailures, now)
		}
	}
	return t.snapshot(now)
}

// Current returns the signals without recording anything.
func (t *Tracker) Current() Signals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(t.clock.Now().UTC())
}

func (t *Tracker) snapshot(now time.Time) Signals {
	cut := now.Add(-window)
	t.delivered = prune(t.delivered, cut)
	t.failures = prune(t.failures, cut)
	t.authFailures = prune(t.authFailures, cut)

	return Signals{
		Delivered1m:    len(t.delivered),
		Failures1m:     len(t.failures),
		AuthFailures1m: len(t.authFailures),
		LastUpdated:    now,
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	return ts[i:]
}
