package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/domain"
)

// LoadGenConfig controls synthetic score generation
type LoadGenConfig struct {
	Topic   string
	UserIDs []string
	// Rate is messages per second.
	Rate int
	// Count stops after this many messages. Zero means run until ctx is done.
	Count int
}

// LoadStats summarizes a load generation run
type LoadStats struct {
	Sent   int64
	Acked  int64
	Errors int64
}

// LoadGenerator publishes synthetic score messages for existing users
type LoadGenerator struct {
	producer sarama.AsyncProducer
	config   LoadGenConfig
	logger   *slog.Logger
	rand     *rand.Rand
}

// NewLoadGenerator connects an asynchronous producer to the configured brokers
func NewLoadGenerator(kcfg *config.KafkaConfig, cfg LoadGenConfig, logger *slog.Logger) (*LoadGenerator, error) {
	saramaConfig := newProducerConfig(kcfg)
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100

	ap, err := sarama.NewAsyncProducer(kcfg.Brokers, saramaConfig)
	if err != nil {
		return nil, domain.Unavailable("creating producer", err)
	}
	if cfg.Topic == "" {
		cfg.Topic = kcfg.ScoreTopic
	}
	return NewLoadGeneratorWithClient(ap, cfg, logger), nil
}

// NewLoadGeneratorWithClient wraps an existing producer
func NewLoadGeneratorWithClient(ap sarama.AsyncProducer, cfg LoadGenConfig, logger *slog.Logger) *LoadGenerator {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	return &LoadGenerator{
		producer: ap,
		config:   cfg,
		logger:   logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns a random score for a random user. The first few users score
// higher so the top of the leaderboard keeps moving.
func (g *LoadGenerator) next() ScoreMessage {
	users := g.config.UserIDs
	var idx int
	if len(users) > 5 && g.rand.Intn(100) < 70 {
		idx = g.rand.Intn(5)
	} else {
		idx = g.rand.Intn(len(users))
	}

	score := g.rand.Intn(400) + 50
	if idx < 5 {
		score = g.rand.Intn(800) + 400
	}
	return ScoreMessage{
		UserID: users[idx],
		Mode:   domain.Modes[g.rand.Intn(len(domain.Modes))],
		Score:  score,
	}
}

// Run publishes messages until Count is reached or ctx is done, then closes
// the producer and waits for outstanding acknowledgements.
func (g *LoadGenerator) Run(ctx context.Context) (LoadStats, error) {
	if len(g.config.UserIDs) == 0 {
		return LoadStats{}, fmt.Errorf("%w: at least one user id is required", domain.ErrValidation)
	}

	var stats LoadStats
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range g.producer.Successes() {
			atomic.AddInt64(&stats.Acked, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range g.producer.Errors() {
			atomic.AddInt64(&stats.Errors, 1)
			g.logger.Warn("producer error", "error", err)
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(g.config.Rate))
	defer ticker.Stop()

	g.logger.Info("generating scores", "topic", g.config.Topic, "users", len(g.config.UserIDs), "rate", g.config.Rate)

loop:
	for g.config.Count == 0 || stats.Sent < int64(g.config.Count) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		msg := g.next()
		data, err := json.Marshal(msg)
		if err != nil {
			g.logger.Error("failed to marshal score message", "error", err)
			continue
		}
		select {
		case g.producer.Input() <- &sarama.ProducerMessage{
			Topic: g.config.Topic,
			Key:   sarama.StringEncoder(msg.UserID),
			Value: sarama.ByteEncoder(data),
		}:
			stats.Sent++
		case <-ctx.Done():
			break loop
		}
	}

	g.producer.AsyncClose()
	wg.Wait()

	final := LoadStats{Sent: stats.Sent, Acked: atomic.LoadInt64(&stats.Acked), Errors: atomic.LoadInt64(&stats.Errors)}
	g.logger.Info("load generation finished", "sent", final.Sent, "acked", final.Acked, "errors", final.Errors)
	return final, nil
}
