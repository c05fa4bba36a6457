package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

func collect(t *testing.T, out <-chan types.RawEvent, n int) []types.RawEvent {
	t.Helper()
	var got []types.RawEvent
	for len(got) < n {
		select {
		case ev, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func lines(evs []types.RawEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Line
	}
	return out
}

func TestFileReadsToEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n\n{\"a\":2}\n{\"a\":3}"), 0o600))

	fs, err := NewFile(path, false, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer fs.Close()

	out := make(chan types.RawEvent)
	require.NoError(t, fs.Start(context.Background(), out))

	got := collect(t, out, 10)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`, `{"a":3}`}, lines(got))
	assert.Equal(t, path, got[0].Source)
}

func TestFileFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	fs, err := NewFile(path, true, nil)
	require.NoError(t, err)
	defer fs.Close()
	fs.FromEnd = true
	fs.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan types.RawEvent)
	require.NoError(t, fs.Start(ctx, out))

	w, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	defer w.Close()
	_, err = w.WriteString("new1\nne")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = w.WriteString("w2\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"new1", "new2"}, lines(collect(t, out, 2)))

	cancel()
	_, ok := <-out
	assert.False(t, ok)
}

type fakeReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		m := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestKafkaEmitsMessages(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	fr := &fakeReader{messages: []kafka.Message{
		{Topic: "meetup_events", Partition: 2, Offset: 10, Value: []byte(`{"a":1}`), Time: ts},
		{Topic: "meetup_events", Partition: 2, Offset: 11, Value: []byte(`{"a":2}`)},
	}}
	k := &Kafka{reader: fr, logger: zaptest.NewLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan types.RawEvent)
	require.NoError(t, k.Start(ctx, out))

	got := collect(t, out, 2)
	require.Len(t, got, 2)
	assert.Equal(t, `{"a":1}`, got[0].Line)
	assert.Equal(t, ts, got[0].Timestamp)
	assert.Equal(t, int64(10), got[0].Offset)
	assert.Equal(t, "kafka://meetup_events/2", got[0].Source)
	assert.False(t, got[1].Timestamp.IsZero())

	cancel()
	_, ok := <-out
	assert.False(t, ok)
	require.NoError(t, k.Close())
	assert.True(t, fr.closed)
}

func TestNewKafkaValidates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", GroupID: "g"}, nil)
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

func TestNewFileMissing(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "nope"), false, nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
