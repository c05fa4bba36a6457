package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sergioferragut/from-kafka-to-polaris/auth"
	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
	"github.com/sergioferragut/from-kafka-to-polaris/buffer"
	"github.com/sergioferragut/from-kafka-to-polaris/dispatcher"
	"github.com/sergioferragut/from-kafka-to-polaris/hasher"
	"github.com/sergioferragut/from-kafka-to-polaris/ingest"
	"github.com/sergioferragut/from-kafka-to-polaris/parser"
	"github.com/sergioferragut/from-kafka-to-polaris/retry"
	"github.com/sergioferragut/from-kafka-to-polaris/sender"
	"github.com/sergioferragut/from-kafka-to-polaris/signals"
	"github.com/sergioferragut/from-kafka-to-polaris/source"
	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

// DefaultDrainTimeout bounds the delivery of the last micro-batch after
// shutdown has been requested.
const DefaultDrainTimeout = 30 * time.Second

var errPending = errors.New("batches still pending")

// Pipeline moves events from a source to Polaris, one micro-batch per push.
type Pipeline struct {
	Source    source.Source
	Collector *batcher.Collector
	Client    *ingest.Client
	Auth      *auth.Authenticator
	Signals   *signals.Tracker
	// DeadLetter receives batches that still failed after retrying. Nil
	// means they are only logged.
	DeadLetter *buffer.DiskBuffer
	// Retry.Attempts is the number of redeliveries of failed batches;
	// zero disables them.
	Retry        retry.Policy
	DrainTimeout time.Duration
	Logger       *zap.Logger

	chain string
}

// Report summarises one delivery.
type Report struct {
	Events       int
	Batches      int
	Delivered    int
	Failed       int
	DeadLettered int
	Refreshed    bool
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Run blocks until the source is exhausted or ctx is done. The micro-batch
// being collected when ctx ends is still delivered, bounded by
// DrainTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	log := p.logger()
	log.Info("pipeline started")

	raw := make(chan types.RawEvent, 200)
	events := make(chan string, 200)
	batches := make(chan batcher.MicroBatch, 10)

	if err := p.Source.Start(ctx, raw); err != nil {
		return fmt.Errorf("starting source: %w", err)
	}
	p.Collector.Run(ctx, events, batches)

	// parse loop
	go func() {
		defer close(events)
		for ev := range raw {
			line, err := parser.Parse(ev)
			if err != nil {
				log.Warn("dropping unparsable event",
					zap.String("source", ev.Source),
					zap.Int64("offset", ev.Offset),
					zap.Error(err),
				)
				continue
			}
			select {
			case events <- line:
			case <-ctx.Done():
				// the collector may already be gone; stop feeding it
				return
			}
		}
	}()

	for mb := range batches {
		dctx, cancel := p.deliveryContext(ctx)
		report := p.Deliver(dctx, mb.Events)
		cancel()

		p.chain = hasher.Chain(p.chain, mb.ID)
		log.Info("micro-batch processed",
			zap.String("micro_batch_id", mb.ID),
			zap.Int("events", report.Events),
			zap.Int("batches", report.Batches),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Int("dead_lettered", report.DeadLettered),
			zap.Duration("collected_over", mb.EndTime.Sub(mb.StartTime)),
			zap.String("chain", p.chain),
		)
	}

	log.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return context.WithCancel(ctx)
	}
	timeout := p.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Deliver pushes events, refreshes the token when the push is refused for
// authentication reasons, retries what can be retried and dead-letters the
// rest.
func (p *Pipeline) Deliver(ctx context.Context, events []string) Report {
	log := p.logger()
	report := Report{Events: len(events)}
	if len(events) == 0 {
		return report
	}

	results, err := p.Client.Push(ctx, events)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		if aerr := p.Auth.Authenticate(ctx); aerr != nil {
			log.Error("cannot authenticate, micro-batch not pushed", zap.Error(aerr))
			batches, serr := p.Client.Split(events)
			if serr == nil {
				report.Batches = len(batches)
				report.Failed = len(batches)
				for _, b := range batches {
					p.deadLetter(b, sender.Failed(aerr), &report)
				}
			}
			return report
		}
		results, err = p.Client.Push(ctx, events)
	}
	if err != nil {
		log.Error("push failed", zap.Error(err))
		return report
	}

	report.Batches = len(results)
	final := p.settle(ctx, results, &report)
	for _, r := range final {
		if r.Outcome.OK() {
			report.Delivered++
			continue
		}
		report.Failed++
		p.deadLetter(r.Batch, r.Outcome, &report)
	}
	return report
}

// settle retries failed batches and returns the last result for every
// batch that was ever pushed.
func (p *Pipeline) settle(ctx context.Context, results []dispatcher.Result, report *Report) []dispatcher.Result {
	log := p.logger()
	final := make(map[string]dispatcher.Result, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		final[r.Batch.ID] = r
		order = append(order, r.Batch.ID)
	}

	pending := p.observe(ctx, results, report)
	if len(pending) > 0 && p.Retry.Attempts > 0 {
		// the first redelivery is the first try, the rest are retries
		policy := p.Retry
		policy.Attempts--
		err := retry.Execute(ctx, policy, log, func() error {
			again, err := p.Client.Redeliver(ctx, pending)
			if err != nil {
				return retry.Permanent(err)
			}
			for _, r := range again {
				final[r.Batch.ID] = r
			}
			pending = p.observe(ctx, again, report)
			if len(pending) > 0 {
				return fmt.Errorf("%w: %d", errPending, len(pending))
			}
			return nil
		})
		if err != nil && !errors.Is(err, errPending) {
			log.Warn("giving up on failed batches", zap.Error(err))
		}
	}

	out := make([]dispatcher.Result, len(order))
	for i, id := range order {
		out[i] = final[id]
	}
	return out
}

// observe updates signals, refreshes the token if any batch was refused
// for authentication reasons, and returns the batches worth retrying.
func (p *Pipeline) observe(ctx context.Context, results []dispatcher.Result, report *Report) []batcher.Batch {
	log := p.logger()

	outcomes := ingest.Outcomes(results)
	if p.Signals != nil {
		s := p.Signals.Update(outcomes...)
		if !s.Healthy() {
			log.Debug("delivery signals",
				zap.Int("delivered_1m", s.Delivered1m),
				zap.Int("failures_1m", s.Failures1m),
				zap.Int("auth_failures_1m", s.AuthFailures1m),
			)
		}
	}

	var retryable []batcher.Batch
	refresh := p.Auth != nil && p.Auth.Expired()
	for _, r := range results {
		if r.Outcome.OK() {
			continue
		}
		if auth.IsAuthFailure(r.Outcome) {
			refresh = true
		}
		if Retryable(r.Outcome) {
			retryable = append(retryable, r.Batch)
		}
	}

	if refresh && p.Auth != nil {
		if err := p.Auth.Refresh(ctx); err != nil {
			log.Error("token refresh failed", zap.Error(err))
		} else {
			report.Refreshed = true
			log.Info("token refreshed")
		}
	}
	return retryable
}

func (p *Pipeline) deadLetter(b batcher.Batch, out sender.Outcome, report *Report) {
	log := p.logger()
	fields := []zap.Field{
		zap.String("batch_id", b.ID),
		zap.Int("events", b.Count),
		zap.String("outcome", out.Kind.String()),
		zap.Int("status", out.Status),
		zap.String("reason", out.Reason()),
	}
	if p.DeadLetter == nil {
		log.Error("batch dropped", fields...)
		return
	}
	err := p.DeadLetter.Append(buffer.Record{
		BatchID: b.ID,
		Digest:  b.Digest,
		Count:   b.Count,
		Outcome: out.Kind.String(),
		Status:  out.Status,
		Reason:  out.Reason(),
		Time:    time.Now().UTC(),
		Body:    b.Body,
	})
	if err != nil {
		log.Error("batch dropped, dead letter write failed", append(fields, zap.Error(err))...)
		return
	}
	report.DeadLettered++
	log.Warn("batch dead-lettered", append(fields, zap.String("path", p.DeadLetter.Path()))...)
}

// Retryable reports whether pushing the same batch again may succeed.
func Retryable(out sender.Outcome) bool {
	switch out.Kind {
	case sender.Delivered:
		return false
	case sender.TransportFailed:
		return !errors.Is(out.Err, sender.ErrInvalidURL)
	}
	switch out.Status {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return out.Status >= http.StatusInternalServerError
}

// Replay redelivers dead-lettered batches and clears the file when all of
// them went through.
func (p *Pipeline) Replay(ctx context.Context) (Report, error) {
	var report Report
	if p.DeadLetter == nil {
		return report, nil
	}
	records, err := p.DeadLetter.ReadAll()
	if err != nil {
		return report, fmt.Errorf("reading dead letters: %w", err)
	}
	if len(records) == 0 {
		return report, nil
	}
	if !p.Auth.Authenticated() {
		if err := p.Auth.Authenticate(ctx); err != nil {
			return report, err
		}
	}

	batches := make([]batcher.Batch, len(records))
	for i, r := range records {
		batches[i] = batcher.Batch{
			Index:  i,
			ID:     r.BatchID,
			Body:   r.Body,
			Count:  r.Count,
			Size:   len(r.Body),
			Digest: r.Digest,
		}
		report.Events += r.Count
	}
	report.Batches = len(batches)

	results, err := p.Client.Redeliver(ctx, batches)
	if err != nil {
		return report, err
	}
	final := p.settle(ctx, results, &report)

	var failed []buffer.Record
	for i, r := range final {
		if r.Outcome.OK() {
			report.Delivered++
			continue
		}
		report.Failed++
		failed = append(failed, records[i])
	}

	if err := p.DeadLetter.Clear(); err != nil {
		return report, err
	}
	for _, rec := range failed {
		rec.Time = time.Now().UTC()
		if err := p.DeadLetter.Append(rec); err != nil {
			return report, err
		}
		report.DeadLettered++
	}
	return report, nil
}
