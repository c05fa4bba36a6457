// Package ingest is the entry point of the push client: it splits a list
// of serialized events into batches and pushes them to a Polaris table
// with the authenticator's current token.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sergioferragut/from-kafka-to-polaris/auth"
	"github.com/sergioferragut/from-kafka-to-polaris/batcher"
	"github.com/sergioferragut/from-kafka-to-polaris/dispatcher"
	"github.com/sergioferragut/from-kafka-to-polaris/sender"
)

// DefaultAPIHost is the Polaris API host.
const DefaultAPIHost = "api.imply.io"

// Options configures a Client.
type Options struct {
	// APIHost is a host name, or a base URL when a scheme is included.
	APIHost       string
	TableID       string
	MaxBatchBytes int
	Strategy      batcher.Strategy

	Dispatcher dispatcher.Config
}

// Client pushes events for one table.
type Client struct {
	auth       *auth.Authenticator
	dispatcher *dispatcher.Dispatcher
	endpoint   string
	maxBytes   int
	strategy   batcher.Strategy
	logger     *zap.Logger
}

// EventsURL returns the push endpoint of a table.
func EventsURL(host, tableID string) (string, error) {
	if tableID == "" {
		return "", fmt.Errorf("ingest: table id is required")
	}
	if host == "" {
		host = DefaultAPIHost
	}
	base := host
	if !strings.Contains(host, "://") {
		base = "https://" + host
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("ingest: api host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("ingest: api host %q: %w", host, sender.ErrInvalidURL)
	}
	return u.JoinPath("v1", "events", tableID).String(), nil
}

// New builds a Client. Dispatcher options are passed through, which is how
// callers wire telemetry.
func New(opts Options, a *auth.Authenticator, s sender.Sender, logger *zap.Logger, dopts ...dispatcher.Option) (*Client, error) {
	if a == nil {
		return nil, fmt.Errorf("ingest: nil authenticator")
	}
	endpoint, err := EventsURL(opts.APIHost, opts.TableID)
	if err != nil {
		return nil, err
	}
	if opts.MaxBatchBytes == 0 {
		opts.MaxBatchBytes = batcher.DefaultMaxBatchBytes
	}
	if opts.MaxBatchBytes < 0 {
		return nil, batcher.ErrInvalidBudget
	}
	if opts.Strategy == "" {
		opts.Strategy = batcher.StrategyCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dcfg := opts.Dispatcher
	dcfg.Endpoint = endpoint
	dopts = append([]dispatcher.Option{dispatcher.WithLogger(logger)}, dopts...)

	return &Client{
		auth:       a,
		dispatcher: dispatcher.New(dcfg, s, dopts...),
		endpoint:   endpoint,
		maxBytes:   opts.MaxBatchBytes,
		strategy:   opts.Strategy,
		logger:     logger.Named("ingest"),
	}, nil
}

// Endpoint returns the URL batches are pushed to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Push splits events into batches and pushes them concurrently. The
// returned results follow batch order. Per batch failures are reported in
// the results, never as an error; the error is non-nil only when the
// client has no token yet.
func (c *Client) Push(ctx context.Context, events []string) ([]dispatcher.Result, error) {
	if len(events) == 0 {
		return []dispatcher.Result{}, nil
	}
	if !c.auth.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}

	batches, err := c.Split(events)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pushing events",
		zap.Int("events", len(events)),
		zap.Int("batches", len(batches)),
	)
	return c.dispatcher.DispatchAll(ctx, batches, c.auth.Headers()), nil
}

// Split batches events the way Push would.
func (c *Client) Split(events []string) ([]batcher.Batch, error) {
	return batcher.SplitWith(c.strategy, events, c.maxBytes)
}

// Redeliver pushes batches that were already built, typically the failed
// ones of an earlier Push after the caller refreshed the token.
func (c *Client) Redeliver(ctx context.Context, batches []batcher.Batch) ([]dispatcher.Result, error) {
	if len(batches) == 0 {
		return []dispatcher.Result{}, nil
	}
	if !c.auth.Authenticated() {
		return nil, auth.ErrNotAuthenticated
	}
	return c.dispatcher.DispatchAll(ctx, batches, c.auth.Headers()), nil
}

// Outcomes extracts the outcomes of results, in order.
func Outcomes(results []dispatcher.Result) []sender.Outcome {
	out := make([]sender.Outcome, len(results))
	for i, r := range results {
		out[i] = r.Outcome
	}
	return out
}

// Failed returns the batches whose push did not succeed.
func Failed(results []dispatcher.Result) []batcher.Batch {
	var out []batcher.Batch
	for _, r := range results {
		if !r.Outcome.OK() {
			out = append(out, r.Batch)
		}
	}
	return out
}
