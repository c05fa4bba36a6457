package batcher

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Config controls micro-batch collection.
type Config struct {
	MaxEvents   int
	MaxInterval time.Duration
}

// Collector buffers events and flushes them on count OR time.
type Collector struct {
	cfg   Config
	clock clock.Clock
}

// NewCollector creates a Collector. A nil clock means wall time.
func NewCollector(cfg Config, clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxEvents < 1 {
		cfg.MaxEvents = 1
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Second
	}
	return &Collector{cfg: cfg, clock: clk}
}

// Run consumes events from in and emits micro-batches to out. It returns
// immediately. When ctx is done or in is closed, whatever is buffered is
// flushed and out is closed, so the consumer should range over out.
func (c *Collector) Run(ctx context.Context, in <-chan string, out chan<- MicroBatch) {
	timer := c.clock.Timer(c.cfg.MaxInterval)

	go func() {
		defer close(out)
		defer timer.Stop()

		var (
			buf       []string
			startTime time.Time
		)

		flush := func(now time.Time) {
			if len(buf) == 0 {
				return
			}
			out <- MicroBatch{
				ID:        uuid.New().String(),
				StartTime: startTime,
				EndTime:   now,
				Count:     len(buf),
				Events:    buf,
			}
			buf = nil
			startTime = time.Time{}
			timer.Reset(c.cfg.MaxInterval)
		}

		for {
			select {
			case <-ctx.Done():
				flush(c.clock.Now().UTC())
				return

			case <-timer.C:
				flush(c.clock.Now().UTC())

			case event, ok := <-in:
				if !ok {
					flush(c.clock.Now().UTC())
					return
				}
				if len(buf) == 0 {
					startTime = c.clock.Now().UTC()
					// the interval counts from the first event
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(c.cfg.MaxInterval)
				}

				buf = append(buf, event)
				if len(buf) >= c.cfg.MaxEvents {
					flush(c.clock.Now().UTC())
				}
			}
		}
	}()
}
