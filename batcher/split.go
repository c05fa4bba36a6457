package batcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sergioferragut/from-kafka-to-polaris/hasher"
)

// DefaultMaxBatchBytes matches the push API request size limit with some
// headroom.
const DefaultMaxBatchBytes = 750000

// ErrInvalidBudget is returned for a byte budget below 1.
var ErrInvalidBudget = errors.New("batch byte budget must be at least 1")

// Strategy selects how payloads are grouped.
type Strategy string

const (
	// StrategyCount divides the payloads into equal element counts derived
	// from the aggregate size. Batches may exceed the budget when payload
	// sizes vary a lot.
	StrategyCount Strategy = "count"
	// StrategyGreedy fills each batch until the next payload would not fit.
	// Only a single payload larger than the budget can exceed it.
	StrategyGreedy Strategy = "greedy"
)

// ParseStrategy maps a config value to a Strategy. Empty means count.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", StrategyCount:
		return StrategyCount, nil
	case StrategyGreedy:
		return StrategyGreedy, nil
	default:
		return "", fmt.Errorf("unknown batch strategy %q", s)
	}
}

// SplitWith splits payloads using the given strategy.
func SplitWith(strategy Strategy, payloads []string, maxBatchBytes int) ([]Batch, error) {
	if strategy == StrategyGreedy {
		return SplitGreedy(payloads, maxBatchBytes)
	}
	return Split(payloads, maxBatchBytes)
}

// Split partitions payloads into contiguous, order preserving batches.
//
// The number of splits is ceil(total/maxBatchBytes), where total is the
// size of all payloads joined with a one byte separator, clamped to
// [1, len(payloads)]. Each batch then takes len(payloads)/splits elements;
// the last one takes whatever is left, so it may be shorter.
func Split(payloads []string, maxBatchBytes int) ([]Batch, error) {
	if maxBatchBytes < 1 {
		return nil, ErrInvalidBudget
	}
	n := len(payloads)
	if n == 0 {
		return nil, nil
	}

	total := n - 1
	for _, p := range payloads {
		total += len(p)
	}

	splits := (total + maxBatchBytes - 1) / maxBatchBytes
	splits = max(1, min(splits, n))
	chunk := n / splits

	batches := make([]Batch, 0, (n+chunk-1)/chunk)
	for i := 0; i < n; i += chunk {
		end := min(i+chunk, n)
		batches = append(batches, build(len(batches), payloads[i:end]))
	}
	return batches, nil
}

// SplitGreedy accumulates payloads into a batch until adding the next one
// would push the body over maxBatchBytes.
func SplitGreedy(payloads []string, maxBatchBytes int) ([]Batch, error) {
	if maxBatchBytes < 1 {
		return nil, ErrInvalidBudget
	}

	var batches []Batch
	start, size := 0, 0
	for i, p := range payloads {
		next := len(p) + 1
		if i > start && size+next > maxBatchBytes {
			batches = append(batches, build(len(batches), payloads[start:i]))
			start, size = i, 0
		}
		size += next
	}
	if start < len(payloads) {
		batches = append(batches, build(len(batches), payloads[start:]))
	}
	return batches, nil
}

func build(index int, chunk []string) Batch {
	size := 0
	for _, p := range chunk {
		size += len(p) + 1
	}

	var b strings.Builder
	b.Grow(size)
	for _, p := range chunk {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	body := b.String()

	return Batch{
		Index:  index,
		ID:     uuid.New().String(),
		Body:   body,
		Count:  len(chunk),
		Size:   len(body),
		Digest: hasher.Digest(body),
	}
}

// Payloads recovers the individual payloads of a batch. Payloads that
// themselves contain newlines do not survive the round trip.
func (b Batch) Payloads() []string {
	if b.Body == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(b.Body, "\n"), "\n")
}
