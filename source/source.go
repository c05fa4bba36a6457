// Package source reads serialized events for the pipeline.
package source

import (
	"context"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

// Source emits raw events until ctx is done or it runs out of input.
// Start returns once the source is running; out is closed when the source
// stops.
type Source interface {
	Start(ctx context.Context, out chan<- types.RawEvent) error
	Close() error
}
