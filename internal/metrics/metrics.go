package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus registry. It records run controller activity and
// NATS publishing.
type Collector struct {
	reg *prometheus.Registry

	ActiveRuns prometheus.Gauge

	RunsStarted     prometheus.Counter
	RunsFinished    *prometheus.CounterVec // status label: completed|cancelled
	Resequences     *prometheus.CounterVec // reason label: deviation|stop_cancelled
	StopsDelivered  prometheus.Counter
	PositionSamples *prometheus.CounterVec // result label: ok|failed

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	SequencingDuration prometheus.Histogram
	PublishDuration    prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
}

// NewCollector creates a Collector and registers every metric.
func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routing_active_runs",
			Help: "Number of currently running run controllers.",
		}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_runs_started_total",
			Help: "Total runs that went en route.",
		}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_runs_finished_total",
			Help: "Total runs that reached a terminal status.",
		}, []string{"status"}),
		Resequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_resequences_total",
			Help: "Total re-sequencings of remaining stops.",
		}, []string{"reason"}),
		StopsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_stops_delivered_total",
			Help: "Total stops marked delivered.",
		}),
		PositionSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_position_samples_total",
			Help: "Total driver position samples taken.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routing_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routing_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SequencingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_sequencing_duration_seconds",
			Help:    "Duration of stop sequencing.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routing_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routing_poll_interval_seconds",
			Help: "Driver position poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveRuns,
		c.RunsStarted, c.RunsFinished, c.Resequences, c.StopsDelivered, c.PositionSamples,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.SequencingDuration, c.PublishDuration,
		c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) RunStarted()               { c.RunsStarted.Inc() }
func (c *Collector) RunFinished(status string) { c.RunsFinished.WithLabelValues(status).Inc() }
func (c *Collector) SetActiveRuns(n int)       { c.ActiveRuns.Set(float64(n)) }
func (c *Collector) Resequenced(reason string) { c.Resequences.WithLabelValues(reason).Inc() }
func (c *Collector) StopDelivered()            { c.StopsDelivered.Inc() }

func (c *Collector) PositionSampled(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.PositionSamples.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveSequencing(d time.Duration) { c.SequencingDuration.Observe(d.Seconds()) }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
