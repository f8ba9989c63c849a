// Package metrics exposes Prometheus counters for discovery runs, external
// calls, caches, and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/ttlcache"
)

const namespace = "outreach"

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	DiscoveryRunsTotal      *prometheus.CounterVec
	DiscoveryRunDuration    prometheus.Histogram
	CandidatesFoundTotal    *prometheus.CounterVec
	CollectorErrorsTotal    *prometheus.CounterVec
	CampaignLeadsInserted   prometheus.Counter
	CampaignLeadsSkipped    prometheus.Counter
	ExternalCallsTotal      *prometheus.CounterVec
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDurationSecs *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DiscoveryRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_runs_total",
				Help:      "Discovery runs by outcome.",
			},
			[]string{"result"},
		),
		DiscoveryRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_run_duration_seconds",
				Help:      "Wall time of successful discovery runs.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		CandidatesFoundTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_candidates_found_total",
				Help:      "Candidates returned by each collector before deduplication.",
			},
			[]string{"source"},
		),
		CollectorErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_collector_errors_total",
				Help:      "Collector failures. A failed collector contributes no candidates.",
			},
			[]string{"source"},
		),
		CampaignLeadsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_campaign_leads_inserted_total",
				Help:      "Campaign lead associations created.",
			},
		),
		CampaignLeadsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_campaign_leads_skipped_total",
				Help:      "Candidates skipped because they were already associated.",
			},
		),
		ExternalCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_calls_total",
				Help:      "Calls to external services by outcome.",
			},
			[]string{"service", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests by route and status code.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDurationSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.DiscoveryRunsTotal,
		m.DiscoveryRunDuration,
		m.CandidatesFoundTotal,
		m.CollectorErrorsTotal,
		m.CampaignLeadsInserted,
		m.CampaignLeadsSkipped,
		m.ExternalCallsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSecs,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCollector implements discovery.Recorder.
func (m *Metrics) ObserveCollector(source discovery.Source, found int, err error) {
	if err != nil {
		m.CollectorErrorsTotal.WithLabelValues(string(source)).Inc()
		return
	}
	m.CandidatesFoundTotal.WithLabelValues(string(source)).Add(float64(found))
}

// ObserveRun implements discovery.Recorder.
func (m *Metrics) ObserveRun(res *discovery.Result, err error) {
	if err != nil || res == nil {
		m.DiscoveryRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.DiscoveryRunsTotal.WithLabelValues("success").Inc()
	m.DiscoveryRunDuration.Observe(res.Duration.Seconds())
	m.CampaignLeadsInserted.Add(float64(res.Inserted))
	m.CampaignLeadsSkipped.Add(float64(res.Skipped))
}

// ObserveExternalCall counts one call to service.
func (m *Metrics) ObserveExternalCall(service string, err error) {
	m.ExternalCallsTotal.WithLabelValues(service, resultLabel(err)).Inc()
}

// ObservePlacesQuery matches discovery.ExternalResearch.OnQuery.
func (m *Metrics) ObservePlacesQuery(_ string, err error) {
	m.ObserveExternalCall("places", err)
}

// RegisterCache exposes a cache's hit, miss, and entry counts as gauges
// labelled with name.
func (m *Metrics) RegisterCache(name string, stats func() ttlcache.Stats) {
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_hits",
			Help:        "Cache hits since start.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_misses",
			Help:        "Cache misses since start.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "cache_entries",
			Help:        "Entries currently held, including expired ones not yet swept.",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Entries) }),
	)
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDurationSecs.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ discovery.Recorder = (*Metrics)(nil)
