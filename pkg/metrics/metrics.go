// Package metrics collects Prometheus metrics for the check engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the engine, scraper and session manager report into
type Recorder interface {
	RecordCheckFinished(status, reason string, cacheUsed bool, duration time.Duration)
	RecordCacheHit(source string)
	RecordPageFetched(relation string)
	RecordRequest(outcome string)
	RecordSessionRefresh(success bool)
	SetQueueDepth(queued, processing int)
}

// Collector is the Prometheus Recorder
type Collector struct {
	checksFinished *prometheus.CounterVec
	checkDuration  prometheus.Histogram
	cacheHits      *prometheus.CounterVec
	pagesFetched   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	sessionRefresh *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmutual_checks_finished_total",
			Help: "Checks that reached a terminal state",
		}, []string{"status", "reason", "cache_used"}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "igmutual_check_duration_seconds",
			Help:    "Wall time of scraped checks",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmutual_cache_hits_total",
			Help: "Checks answered from a previous result",
		}, []string{"source"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmutual_pages_fetched_total",
			Help: "Relation pages fetched and checkpointed",
		}, []string{"relation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmutual_platform_requests_total",
			Help: "Platform requests by classified outcome",
		}, []string{"outcome"}),
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmutual_session_refresh_total",
			Help: "Session refresh attempts",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "igmutual_queue_depth",
			Help: "Queue entries by status",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.checksFinished,
		c.checkDuration,
		c.cacheHits,
		c.pagesFetched,
		c.requests,
		c.sessionRefresh,
		c.queueDepth,
	)

	return c
}

// RecordCheckFinished counts a terminal check. Cache hits are not timed.
func (c *Collector) RecordCheckFinished(status, reason string, cacheUsed bool, duration time.Duration) {
	cache := "false"
	if cacheUsed {
		cache = "true"
	}
	c.checksFinished.WithLabelValues(status, reason, cache).Inc()
	if !cacheUsed && duration > 0 {
		c.checkDuration.Observe(duration.Seconds())
	}
}

func (c *Collector) RecordCacheHit(source string) {
	c.cacheHits.WithLabelValues(source).Inc()
}

func (c *Collector) RecordPageFetched(relation string) {
	c.pagesFetched.WithLabelValues(relation).Inc()
}

// RecordRequest counts one platform request; outcome is "ok" or a failure reason
func (c *Collector) RecordRequest(outcome string) {
	c.requests.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSessionRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.sessionRefresh.WithLabelValues(result).Inc()
}

func (c *Collector) SetQueueDepth(queued, processing int) {
	c.queueDepth.WithLabelValues("queued").Set(float64(queued))
	c.queueDepth.WithLabelValues("processing").Set(float64(processing))
}

// Handler serves the registry in the Prometheus text format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordCheckFinished(string, string, bool, time.Duration) {}
func (Nop) RecordCacheHit(string)                                   {}
func (Nop) RecordPageFetched(string)                                {}
func (Nop) RecordRequest(string)                                    {}
func (Nop) RecordSessionRefresh(bool)                               {}
func (Nop) SetQueueDepth(int, int)                                  {}
