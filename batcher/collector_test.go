package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, out <-chan MicroBatch) MicroBatch {
	t.Helper()
	select {
	case mb, ok := <-out:
		require.True(t, ok, "collector closed its output")
		return mb
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a micro-batch")
		return MicroBatch{}
	}
}

func TestCollectorFlushesOnCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan string)
	out := make(chan MicroBatch, 4)
	NewCollector(Config{MaxEvents: 3, MaxInterval: time.Hour}, clock.NewMock()).Run(ctx, in, out)

	for _, e := range []string{"a", "b", "c", "d"} {
		in <- e
	}

	mb := receive(t, out)
	assert.Equal(t, []string{"a", "b", "c"}, mb.Events)
	assert.Equal(t, 3, mb.Count)
	assert.NotEmpty(t, mb.ID)

	close(in)
	mb = receive(t, out)
	assert.Equal(t, []string{"d"}, mb.Events)

	_, ok := <-out
	assert.False(t, ok)
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan string)
	out := make(chan MicroBatch, 1)
	NewCollector(Config{MaxEvents: 100, MaxInterval: 20 * time.Millisecond}, nil).Run(ctx, in, out)

	in <- "a"
	in <- "b"

	mb := receive(t, out)
	assert.Equal(t, []string{"a", "b"}, mb.Events)
	assert.False(t, mb.EndTime.Before(mb.StartTime))
}

func TestCollectorFlushesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan string)
	out := make(chan MicroBatch, 1)
	NewCollector(Config{MaxEvents: 100, MaxInterval: time.Hour}, clock.NewMock()).Run(ctx, in, out)

	in <- "only"
	cancel()

	mb := receive(t, out)
	assert.Equal(t, []string{"only"}, mb.Events)

	_, ok := <-out
	assert.False(t, ok)
}
