package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sergioferragut/from-kafka-to-polaris/types"
)

// KafkaConfig selects the topic to consume.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// messageReader is the part of kafka.Reader the source uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka reads a topic as a consumer group member. Offsets are committed
// by the reader as messages are read.
type Kafka struct {
	reader messageReader
	logger *zap.Logger
}

// NewKafka creates a Kafka source.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: KAFKA_BROKERS is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: KAFKA_TOPIC is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return &Kafka{reader: reader, logger: logger.Named("kafka")}, nil
}

// Start consumes messages in the background.
func (k *Kafka) Start(ctx context.Context, out chan<- types.RawEvent) error {
	go func() {
		defer close(out)
		for {
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					k.logger.Info("kafka source stopped")
					return
				}
				k.logger.Error("kafka read failed", zap.Error(err))
				select {
				case <-time.After(time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			ts := msg.Time
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			select {
			case out <- types.RawEvent{
				Timestamp: ts,
				Source:    fmt.Sprintf("kafka://%s/%d", msg.Topic, msg.Partition),
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Line:      string(msg.Value),
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close closes the reader.
func (k *Kafka) Close() error {
	return k.reader.Close()
}
