package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/adlens/adlens/agent/internal/config"
	"github.com/adlens/adlens/pkg/types"
)

// Kafka publishes every result to a topic, keyed by job ID so one job's
// results stay ordered within a partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafka connects a synchronous producer to cfg.Brokers.
func NewKafka(cfg config.Sink) (*Kafka, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_6_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("sink: kafka: create producer: %w", err)
	}
	return NewKafkaWithProducer(p, cfg.Topic), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(p sarama.SyncProducer, topic string) *Kafka {
	return &Kafka{producer: p, topic: topic}
}

// Name implements Sink.
func (s *Kafka) Name() string { return "kafka:" + s.topic }

// Write sends res as one JSON message.
func (s *Kafka) Write(_ context.Context, res *types.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("sink: kafka: marshal: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(res.JobID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: res.Timestamp,
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("sink: kafka: send: %w", err)
	}
	slog.Debug("sink: kafka message sent", "job", res.JobID, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer.
func (s *Kafka) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("sink: kafka: close: %w", err)
	}
	return nil
}
