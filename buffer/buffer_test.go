package buffer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskBuffer(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "dead.jsonl"))

	records, err := d.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := Record{BatchID: "b1", Count: 2, Outcome: "rejected", Status: 400, Time: now, Body: "{\"a\":1}\n{\"a\":2}\n"}
	second := Record{BatchID: "b2", Count: 1, Outcome: "transport_failed", Reason: "timeout", Time: now, Body: "{}\n"}
	require.NoError(t, d.Append(first))
	require.NoError(t, d.Append(second))

	records, err = d.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []Record{first, second}, records)

	require.NoError(t, d.Clear())
	require.NoError(t, d.Clear())
	records, err = d.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}
