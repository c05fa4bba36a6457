package types

import "time"

// RawEvent is one serialized record as read from a source.
type RawEvent struct {
	// Timestamp is the record time reported by the source, or the read
	// time when the source has none.
	Timestamp time.Time
	Source    string
	// Partition and Offset are only meaningful for Kafka records.
	Partition int
	Offset    int64
	Line      string
}
