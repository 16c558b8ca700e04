package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
)

// newProducerConfig mirrors the producer settings used for all publishing
func newProducerConfig(cfg *config.KafkaConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	return saramaConfig
}

// Producer publishes score events after they are recorded
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewProducer connects a synchronous producer to the configured brokers
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	sp, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig(cfg))
	if err != nil {
		return nil, domain.Unavailable("creating producer", err)
	}
	logger.Info("Kafka producer connected", "brokers", cfg.Brokers, "topic", cfg.EventsTopic)
	return NewProducerWithClient(sp, cfg.EventsTopic, logger), nil
}

// NewProducerWithClient wraps an existing producer
func NewProducerWithClient(sp sarama.SyncProducer, topic string, logger *slog.Logger) *Producer {
	return &Producer{producer: sp, topic: topic, logger: logger}
}

// PublishScore sends a score event keyed by user id so a user's events stay ordered
func (p *Producer) PublishScore(ctx context.Context, event domain.ScoreEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling score event: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.UserID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return domain.Unavailable("publishing score event", err)
	}
	p.logger.Debug("score event published", "entry_id", event.EntryID, "partition", partition, "offset", offset)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
