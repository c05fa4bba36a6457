package batcher

import "time"

// Batch is one request body worth of events.
type Batch struct {
	// Index is the position of the batch in the split that produced it.
	Index int
	ID    string
	// Body holds every payload followed by a newline.
	Body   string
	Count  int
	Size   int
	Digest string
}

// MicroBatch is a group of raw events collected from a source, flushed on
// count or time. It is the unit handed to one push.
type MicroBatch struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Count     int
	Events    []string
}
