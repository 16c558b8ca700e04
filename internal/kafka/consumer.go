// Package kafka ingests externally produced scores and publishes score events.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/metrics"
)

// Message results reported to metrics
const (
	ResultProcessed = "processed"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

// ScoreHandler records a score on behalf of a user
type ScoreHandler interface {
	SubmitScoreForUserID(ctx context.Context, userID string, submission domain.ScoreSubmission, source string) (*domain.ScoreEntry, error)
}

// ScoreMessage is the message format on the score topic
type ScoreMessage struct {
	UserID string      `json:"user_id"`
	Mode   domain.Mode `json:"mode"`
	Score  int         `json:"score"`
}

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	metrics       metrics.Recorder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, rec metrics.Recorder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, domain.Unavailable("creating consumer group", err)
	}
	return newConsumer(cfg, consumerGroup, handler, rec, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, group sarama.ConsumerGroup, handler ScoreHandler, rec metrics.Recorder, logger *slog.Logger) *Consumer {
	if rec == nil {
		rec = metrics.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		metrics:       rec,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages and returns once the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ScoreTopic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ScoreTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}
			ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// process submits one batch. Each message is independent: a bad user id or
// score only drops that message.
func (c *Consumer) process(batch []ScoreMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := 0
	for _, msg := range batch {
		sub := domain.ScoreSubmission{Score: msg.Score, Mode: msg.Mode}
		if _, err := c.handler.SubmitScoreForUserID(ctx, msg.UserID, sub, metrics.SourceKafka); err != nil {
			failed++
			if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
				c.metrics.RecordKafkaMessage(ResultInvalid)
				c.logger.Warn("rejected score message", "user_id", msg.UserID, "error", err)
				continue
			}
			c.metrics.RecordKafkaMessage(ResultFailed)
			c.logger.Error("failed to submit score message", "user_id", msg.UserID, "error", err)
			continue
		}
		c.metrics.RecordKafkaMessage(ResultProcessed)
	}
	c.logger.Debug("processed batch", "batch_size", len(batch), "failed", failed)
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	once     sync.Once
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]ScoreMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) == 0 {
			return
		}
		h.consumer.process(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}

			var msg ScoreMessage
			if err := json.Unmarshal(message.Value, &msg); err != nil {
				h.consumer.metrics.RecordKafkaMessage(ResultInvalid)
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if msg.UserID == "" {
				h.consumer.metrics.RecordKafkaMessage(ResultInvalid)
				h.consumer.logger.Warn("score message without user_id", "offset", message.Offset)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, msg)
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				processBatch()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}
