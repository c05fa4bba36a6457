package batcher

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(n, size int) []string {
	out := make([]string, n)
	for i := range out {
		p := fmt.Sprintf("%d:", i)
		out[i] = p + strings.Repeat("x", max(0, size-len(p)))
	}
	return out
}

func randomPayloads(r *rand.Rand, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(`{"i":%d,"v":"%s"}`, i, strings.Repeat("y", r.Intn(500)))
	}
	return out
}

func flatten(t *testing.T, batches []Batch) []string {
	t.Helper()
	var out []string
	for i, b := range batches {
		require.Equal(t, i, b.Index)
		require.Equal(t, len(b.Body), b.Size)
		require.Len(t, b.Payloads(), b.Count)
		out = append(out, b.Payloads()...)
	}
	return out
}

func TestSplitEmpty(t *testing.T) {
	batches, err := Split(nil, DefaultMaxBatchBytes)
	require.NoError(t, err)
	assert.Empty(t, batches)

	batches, err = SplitGreedy([]string{}, DefaultMaxBatchBytes)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestSplitInvalidBudget(t *testing.T) {
	_, err := Split([]string{"a"}, 0)
	assert.ErrorIs(t, err, ErrInvalidBudget)
	_, err = SplitGreedy([]string{"a"}, -1)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestSplitBody(t *testing.T) {
	batches, err := Split([]string{`{"a":1}`, `{"a":2}`}, DefaultMaxBatchBytes)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	b := batches[0]
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", b.Body)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, 16, b.Size)
	assert.NotEmpty(t, b.ID)
	assert.Len(t, b.Digest, 64)
}

func TestSplitPreservesOrderAndCount(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, budget := range []int{1, 10, 100, 1000, 5000, DefaultMaxBatchBytes} {
		for _, n := range []int{1, 2, 3, 7, 50, 333} {
			in := randomPayloads(r, n)
			for _, strategy := range []Strategy{StrategyCount, StrategyGreedy} {
				batches, err := SplitWith(strategy, in, budget)
				require.NoError(t, err)

				assert.Equal(t, in, flatten(t, batches), "strategy=%s budget=%d n=%d", strategy, budget, n)
				assert.LessOrEqual(t, len(batches), n)
				for _, b := range batches {
					assert.Positive(t, b.Count)
				}
			}
		}
	}
}

func TestSplitClampsSplitsToPayloadCount(t *testing.T) {
	// 7 payloads of 10 bytes: 76 bytes joined, budget 26 gives 3 splits.
	in := payloads(7, 10)
	batches, err := Split(in, 26)
	require.NoError(t, err)

	counts := make([]int, len(batches))
	for i, b := range batches {
		counts[i] = b.Count
	}
	assert.Equal(t, []int{2, 2, 2, 1}, counts)
	assert.Equal(t, in, flatten(t, batches))

	// A budget far below any payload would ask for more splits than
	// payloads; each payload then gets its own batch.
	batches, err = Split(in, 1)
	require.NoError(t, err)
	assert.Len(t, batches, 7)
}

func TestSplitLargeInputTwoBatches(t *testing.T) {
	in := payloads(10000, 100)
	batches, err := Split(in, DefaultMaxBatchBytes)
	require.NoError(t, err)

	require.Len(t, batches, 2)
	assert.Equal(t, 5000, batches[0].Count)
	assert.Equal(t, 5000, batches[1].Count)
	assert.Equal(t, 505000, batches[0].Size)
}

func TestSplitCountBudgetIsApproximate(t *testing.T) {
	// One huge payload followed by small ones: count based chunks ignore the
	// per chunk size, so the first batch is over budget.
	in := append([]string{strings.Repeat("z", 900)}, payloads(9, 10)...)
	batches, err := Split(in, 500)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Greater(t, batches[0].Size, 500)
}

func TestSplitGreedyRespectsBudget(t *testing.T) {
	in := append(payloads(20, 10), strings.Repeat("z", 900))
	in = append(in, payloads(5, 10)...)

	batches, err := SplitGreedy(in, 100)
	require.NoError(t, err)
	assert.Equal(t, in, flatten(t, batches))

	for _, b := range batches {
		if b.Count == 1 {
			continue
		}
		assert.LessOrEqual(t, b.Size, 100)
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyCount, s)

	s, err = ParseStrategy("Greedy")
	require.NoError(t, err)
	assert.Equal(t, StrategyGreedy, s)

	_, err = ParseStrategy("random")
	assert.Error(t, err)
}
