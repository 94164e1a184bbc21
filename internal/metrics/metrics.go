// Package metrics tracks gateway-wide operational counters at the
// device/cloud/job-queue boundary, using decorators that wrap the Transport
// and cloud Client interfaces, and exposes them to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandgrain/gatemediator/internal/cloud"
	"github.com/sandgrain/gatemediator/internal/transport"
)

// Collector owns every counter and gauge the gateway exports.
type Collector struct {
	deviceExchanges  *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	cloudCalls       *prometheus.CounterVec
	jobQueueDepth    prometheus.Gauge
	jobsProcessed    prometheus.Counter
}

// NewCollector registers every metric against reg and returns the Collector.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across parallel test runs.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		deviceExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatemediator",
			Subsystem: "device",
			Name:      "exchanges_total",
			Help:      "Total device exchange attempts by outcome.",
		}, []string{"outcome"}),
		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatemediator",
			Subsystem: "device",
			Name:      "exchange_duration_seconds",
			Help:      "Device exchange latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		cloudCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatemediator",
			Subsystem: "cloud",
			Name:      "calls_total",
			Help:      "Total cloud auth service calls by method and outcome.",
		}, []string{"method", "outcome"}),
		jobQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatemediator",
			Subsystem: "jobqueue",
			Name:      "depth",
			Help:      "Number of jobs currently queued but not yet picked up.",
		}),
		jobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gatemediator",
			Subsystem: "jobqueue",
			Name:      "jobs_processed_total",
			Help:      "Total jobs completed by the Worker.",
		}),
	}
}

// Handler serves the default Prometheus gatherer in the exposition format.
// It includes this Collector's metrics only when the Collector was built on
// prometheus.DefaultRegisterer.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// SetJobQueueDepth records the current queue depth, sampled by the runtime
// each time its health snapshot is taken.
func (c *Collector) SetJobQueueDepth(n int) {
	c.jobQueueDepth.Set(float64(n))
}

// RecordJobProcessed increments the completed-jobs counter.
func (c *Collector) RecordJobProcessed() {
	c.jobsProcessed.Inc()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

// instrumentedTransport decorates a Transport with exchange counters and
// latency histograms, delegating every result unchanged.
type instrumentedTransport struct {
	next transport.Transport
	c    *Collector
}

// InstrumentTransport wraps next so every Exchange call is counted and timed.
func InstrumentTransport(next transport.Transport, c *Collector) transport.Transport {
	return &instrumentedTransport{next: next, c: c}
}

func (t *instrumentedTransport) Exchange(ctx context.Context, endpoint string, frame transport.Frame) ([]byte, error) {
	start := time.Now()
	result, err := t.next.Exchange(ctx, endpoint, frame)
	outcome := outcomeLabel(err)
	t.c.deviceExchanges.WithLabelValues(outcome).Inc()
	t.c.exchangeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

// instrumentedCloudClient decorates a cloud.Client with per-method call counters.
type instrumentedCloudClient struct {
	next cloud.Client
	c    *Collector
}

// InstrumentCloudClient wraps next so every call is counted by method and outcome.
func InstrumentCloudClient(next cloud.Client, c *Collector) cloud.Client {
	return &instrumentedCloudClient{next: next, c: c}
}

func (w *instrumentedCloudClient) IoTLogin(ctx context.Context, username, password string) (cloud.LoginResult, error) {
	result, err := w.next.IoTLogin(ctx, username, password)
	w.c.cloudCalls.WithLabelValues("iotLogin", outcomeLabel(err)).Inc()
	return result, err
}

func (w *instrumentedCloudClient) RequestCW(ctx context.Context, accessToken, pccid string, sign bool) (cloud.ChallengeResult, error) {
	result, err := w.next.RequestCW(ctx, accessToken, pccid, sign)
	w.c.cloudCalls.WithLabelValues("requestCW", outcomeLabel(err)).Inc()
	return result, err
}

func (w *instrumentedCloudClient) ReplyRW(ctx context.Context, accessToken, pccid, cw, rw, transactionID string, sign bool) (string, error) {
	result, err := w.next.ReplyRW(ctx, accessToken, pccid, cw, rw, transactionID, sign)
	w.c.cloudCalls.WithLabelValues("replyRW", outcomeLabel(err)).Inc()
	return result, err
}

func (w *instrumentedCloudClient) CheckAuthStatus(ctx context.Context, accessToken, transactionID string, sign bool) (cloud.Verdict, error) {
	result, err := w.next.CheckAuthStatus(ctx, accessToken, transactionID, sign)
	w.c.cloudCalls.WithLabelValues("checkAuthStatus", outcomeLabel(err)).Inc()
	return result, err
}
