// Package metrics exposes Prometheus metrics for the game server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snake-arena/internal/domain"
)

// Score sources
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// Recorder is the metrics interface used by services, workers and handlers.
type Recorder interface {
	RecordPing(mode domain.Mode)
	RecordPingRateLimited()
	RecordEvictions(n int)
	RecordScoreSubmitted(mode domain.Mode, source string)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	RecordAuth(action string, ok bool)
	RecordRankingSync(duration time.Duration, err error)
	RecordKafkaMessage(result string)
	SetWebsocketClients(n int)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	reg prometheus.Registerer

	pings            *prometheus.CounterVec
	pingsLimited     prometheus.Counter
	evictions        prometheus.Counter
	scores           *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	auth             *prometheus.CounterVec
	rankingSyncs     *prometheus.CounterVec
	rankingSyncTime  prometheus.Histogram
	kafkaMessages    *prometheus.CounterVec
	websocketClients prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_live_player_pings_total",
			Help: "Heartbeats accepted from players in a game",
		}, []string{"mode"}),
		pingsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snake_live_player_pings_rate_limited_total",
			Help: "Heartbeats rejected by the per-user rate limiter",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snake_live_players_evicted_total",
			Help: "Live player entries removed after missing heartbeats",
		}),
		scores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_scores_submitted_total",
			Help: "Score entries recorded",
		}, []string{"mode", "source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snake_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_auth_attempts_total",
			Help: "Signup and login attempts",
		}, []string{"action", "result"}),
		rankingSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_ranking_syncs_total",
			Help: "Ranking cache rebuilds",
		}, []string{"result"}),
		rankingSyncTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snake_ranking_sync_duration_seconds",
			Help:    "Time spent rebuilding the ranking cache",
			Buckets: prometheus.DefBuckets,
		}),
		kafkaMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snake_kafka_messages_total",
			Help: "Score messages consumed from Kafka",
		}, []string{"result"}),
		websocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snake_websocket_clients",
			Help: "Connected spectator websocket clients",
		}),
	}

	reg.MustRegister(
		c.pings,
		c.pingsLimited,
		c.evictions,
		c.scores,
		c.httpRequests,
		c.httpDuration,
		c.auth,
		c.rankingSyncs,
		c.rankingSyncTime,
		c.kafkaMessages,
		c.websocketClients,
	)
	return c
}

// WatchLivePlayers registers a gauge that reads the registry size at scrape time.
func (c *Collector) WatchLivePlayers(count func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "snake_live_players",
		Help: "Entries held in the live player registry",
	}, func() float64 { return float64(count()) }))
}

func (c *Collector) RecordPing(mode domain.Mode) {
	c.pings.WithLabelValues(mode.String()).Inc()
}

func (c *Collector) RecordPingRateLimited() {
	c.pingsLimited.Inc()
}

func (c *Collector) RecordEvictions(n int) {
	c.evictions.Add(float64(n))
}

func (c *Collector) RecordScoreSubmitted(mode domain.Mode, source string) {
	c.scores.WithLabelValues(mode.String(), source).Inc()
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) RecordAuth(action string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.auth.WithLabelValues(action, result).Inc()
}

func (c *Collector) RecordRankingSync(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.rankingSyncs.WithLabelValues(result).Inc()
	c.rankingSyncTime.Observe(duration.Seconds())
}

func (c *Collector) RecordKafkaMessage(result string) {
	c.kafkaMessages.WithLabelValues(result).Inc()
}

func (c *Collector) SetWebsocketClients(n int) {
	c.websocketClients.Set(float64(n))
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordPing(domain.Mode)                               {}
func (Nop) RecordPingRateLimited()                               {}
func (Nop) RecordEvictions(int)                                  {}
func (Nop) RecordScoreSubmitted(domain.Mode, string)             {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordAuth(string, bool)                              {}
func (Nop) RecordRankingSync(time.Duration, error)               {}
func (Nop) RecordKafkaMessage(string)                            {}
func (Nop) SetWebsocketClients(int)                              {}
