// Package dispatcher pushes batches concurrently and collects exactly one
// outcome per batch, in batch order.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
	"github.com/sergioferragut/from-kafka-to-polaris/sender"
)

// DefaultMaxConcurrency is the default number of requests in flight.
const DefaultMaxConcurrency = 5

// Result pairs a batch with the outcome of pushing it.
type Result struct {
	Batch   batcher.Batch
	Outcome sender.Outcome
}

// Config configures a Dispatcher.
type Config struct {
	// Endpoint is the URL every batch is POSTed to.
	Endpoint string
	// MaxConcurrency bounds requests in flight. Values below 1 mean
	// DefaultMaxConcurrency.
	MaxConcurrency int
	// RequestsPerSecond caps the request rate. Zero means unlimited.
	RequestsPerSecond float64
}

// Dispatcher fans batches out over a Sender.
type Dispatcher struct {
	sender         sender.Sender
	endpoint       string
	maxConcurrency int
	limiter        *rate.Limiter
	clock          clock.Clock
	logger         *zap.Logger
	metrics        *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for per batch records.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the Prometheus series to update.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock sets the clock used to time pushes.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// New returns a Dispatcher.
func New(cfg Config, s sender.Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:         s,
		endpoint:       cfg.Endpoint,
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		clock:          clock.New(),
		logger:         zap.NewNop(),
		metrics:        NewMetrics(nil),
	}
	if d.maxConcurrency < 1 {
		d.maxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// MaxConcurrency returns the pool size.
func (d *Dispatcher) MaxConcurrency() int {
	return d.maxConcurrency
}

// DispatchAll pushes every batch and returns one Result per batch, at the
// batch's position. It never retries and never fails as a whole: if ctx
// ends, batches that were not sent get a TransportFailed outcome.
func (d *Dispatcher) DispatchAll(ctx context.Context, batches []batcher.Batch, headers map[string]string) []Result {
	results := make([]Result, len(batches))
	if len(batches) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(d.maxConcurrency))
	var wg sync.WaitGroup

	for i, b := range batches {
		results[i].Batch = b

		// Block here if we are already sending too many requests.
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(batches); j++ {
				results[j] = Result{Batch: batches[j], Outcome: sender.Failed(err)}
				d.record(results[j])
			}
			break
		}

		wg.Add(1)
		go func(i int, b batcher.Batch) {
			defer func() {
				sem.Release(1)
				wg.Done()
			}()
			results[i].Outcome = d.push(ctx, b, headers)
			d.record(results[i])
		}(i, b)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) push(ctx context.Context, b batcher.Batch, headers map[string]string) sender.Outcome {
	if err := d.limiter.Wait(ctx); err != nil {
		return sender.Failed(err)
	}

	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	d.metrics.InFlight.Inc()
	defer d.metrics.InFlight.Dec()

	start := d.clock.Now()
	out, err := d.sender.Send(ctx, sender.Request{
		URL:      d.endpoint,
		Method:   http.MethodPost,
		Header:   h,
		Body:     b.Body,
		Encoding: sender.EncodingJSON,
	})
	if err != nil {
		out = sender.Failed(err)
	}
	out.Elapsed = d.clock.Since(start)
	return out
}

func (d *Dispatcher) record(r Result) {
	d.metrics.observe(r)

	fields := []zap.Field{
		zap.String("batch_id", r.Batch.ID),
		zap.Int("index", r.Batch.Index),
		zap.Int("events", r.Batch.Count),
		zap.Int("bytes", r.Batch.Size),
		zap.String("digest", r.Batch.Digest),
		zap.Duration("elapsed", r.Outcome.Elapsed),
		zap.String("outcome", r.Outcome.Kind.String()),
	}

	switch r.Outcome.Kind {
	case sender.Delivered:
		d.logger.Info("batch pushed", append(fields, zap.Int("status", r.Outcome.Status))...)
	case sender.Rejected:
		d.logger.Warn("batch rejected", append(fields,
			zap.Int("status", r.Outcome.Status),
			zap.String("body", r.Outcome.Body),
		)...)
	default:
		lvl := d.logger.Warn
		if errors.Is(r.Outcome.Err, context.Canceled) {
			lvl = d.logger.Info
		}
		lvl("batch not sent", append(fields, zap.Error(r.Outcome.Err))...)
	}
}
