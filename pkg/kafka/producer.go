package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/trellis/pkg/metrics"
)

// Producer publishes activity events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	config ProducerConfig
}

// NewProducer creates a new Kafka producer
func NewProducer(config ProducerConfig, logger ectologger.Logger) (*Producer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	var compression kafka.Compression
	switch config.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "snappy":
		compression = kafka.Snappy
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	default:
		compression = 0 // No compression
	}

	// Topic is left empty on the Writer so each message can carry its own.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Hash by key for partition affinity
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.BatchTimeout,
		MaxAttempts:            config.MaxAttempts,
		WriteTimeout:           config.WriteTimeout,
		Async:                  config.Async,
		Compression:            compression,
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		config: config,
	}, nil
}

// Publish publishes an activity event to the default topic
func (p *Producer) Publish(ctx context.Context, event *ActivityEvent) error {
	return p.PublishToTopic(ctx, p.config.Topic, event)
}

// PublishToTopic publishes an activity event to a specific topic
func (p *Producer) PublishToTopic(ctx context.Context, topic string, event *ActivityEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	// Key by community:room so a room's events stay ordered within a partition
	key := fmt.Sprintf("%s:%s", event.Community, event.RoomID)

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "community", Value: []byte(event.Community)},
	}
	if event.TraceID != "" {
		traceparent := fmt.Sprintf("00-%s-%s-01", event.TraceID, event.SpanID)
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	kafkaMsg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
		Time:    event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		metrics.RecordKafkaPublish(topic, "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RecordKafkaPublish(topic, "success")
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	p.logger.Info("Kafka producer closed")
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() kafka.WriterStats {
	return p.writer.Stats()
}
