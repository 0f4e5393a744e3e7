package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is what the bot and its price layer report.
type Metrics interface {
	ObserveUpstream(provider, outcome string, d time.Duration)
	CacheHit(provider string)
	CacheMiss(provider string)
	CommandHandled(command string, d time.Duration)
}

type noopMetrics struct{}

func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) ObserveUpstream(string, string, time.Duration) {}
func (noopMetrics) CacheHit(string)                               {}
func (noopMetrics) CacheMiss(string)                              {}
func (noopMetrics) CommandHandled(string, time.Duration)          {}

type prometheusMetrics struct {
	upstream *prometheus.HistogramVec
	cache    *prometheus.CounterVec
	commands *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (Metrics, error) {
	m := &prometheusMetrics{
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cpb",
			Name:      "upstream_duration_seconds",
			Help:      "Duration of provider price calls, by provider and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cpb",
			Name:      "quote_cache_lookups_total",
			Help:      "Quote cache lookups, by provider and result.",
		}, []string{"provider", "result"}),
		commands: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cpb",
			Name:      "command_duration_seconds",
			Help:      "Time to answer a chat command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
	for _, c := range []prometheus.Collector{m.upstream, m.cache, m.commands} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusMetrics) ObserveUpstream(provider, outcome string, d time.Duration) {
	m.upstream.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

func (m *prometheusMetrics) CacheHit(provider string) {
	m.cache.WithLabelValues(provider, "hit").Inc()
}

func (m *prometheusMetrics) CacheMiss(provider string) {
	m.cache.WithLabelValues(provider, "miss").Inc()
}

func (m *prometheusMetrics) CommandHandled(command string, d time.Duration) {
	m.commands.WithLabelValues(command).Observe(d.Seconds())
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
