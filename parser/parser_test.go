package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

var ts = time.Date(2026, 3, 4, 17, 5, 6, 0, time.UTC)

func TestParseAddsTime(t *testing.T) {
	out, err := Parse(types.RawEvent{Timestamp: ts, Line: `{"city":"Oslo","n":1.50}` + "\n"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"__time":"2026-03-04 17:05:06","city":"Oslo","n":1.50}`, out)
	assert.Contains(t, out, `1.50`)
}

func TestParseKeepsExistingTime(t *testing.T) {
	line := `{"__time":"2020-01-01T00:00:00Z","city":"Oslo"}`
	out, err := Parse(types.RawEvent{Timestamp: ts, Line: "  " + line})
	require.NoError(t, err)
	assert.Equal(t, line, out)
}

func TestParseCompactsMultiline(t *testing.T) {
	out, err := Parse(types.RawEvent{Timestamp: ts, Line: "{\n\"__time\": \"x\",\n\"a\": 1\n}"})
	require.NoError(t, err)
	assert.Equal(t, `{"__time": "x","a": 1}`, out)
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, line := range []string{"", "plain text", "[1,2]", "{broken"} {
		_, err := Parse(types.RawEvent{Line: line})
		assert.ErrorIs(t, err, ErrNotObject, line)
	}
}
