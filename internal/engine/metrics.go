package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks operational counters for a run. They live on a private
// registry and are exported as a node-exporter textfile at the end of the run.
var metrics = newRunMetrics()

type runMetrics struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiErrors     *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	published     *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	statsRefresh  *prometheus.CounterVec
	telegramCalls *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	lastRun       *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_api_requests_total",
			Help: "Requests sent to the iwara API, by endpoint.",
		}, []string{"endpoint"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_api_errors_total",
			Help: "Failed iwara API requests, by endpoint.",
		}, []string{"endpoint"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_downloads_total",
			Help: "Asset downloads, by result (ok, skipped, not_found, failed).",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_published_total",
			Help: "Videos published, by feed kind.",
		}, []string{"feed"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_skipped_total",
			Help: "Candidates skipped, by reason.",
		}, []string{"reason"}),
		statsRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_stats_refresh_total",
			Help: "Ranking stat refreshes, by result.",
		}, []string{"result"}),
		telegramCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iwara_telegram_calls_total",
			Help: "Telegram Bot API calls, by method and result.",
		}, []string{"method", "result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iwara_cache_hits_total",
			Help: "Video metadata cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iwara_cache_misses_total",
			Help: "Video metadata cache misses.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iwara_last_run_timestamp_seconds",
			Help: "Unix time the last run of an action finished.",
		}, []string{"action"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iwara_run_duration_seconds",
			Help: "Wall time of the last run of an action.",
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		m.apiRequests, m.apiErrors, m.downloads, m.published, m.skipped,
		m.statsRefresh, m.telegramCalls, m.cacheHits, m.cacheMisses,
		m.lastRun, m.runDuration,
	)
	return m
}

// Incrementors used by the sub-packages.
func IncrAPIRequest(endpoint string) { metrics.apiRequests.WithLabelValues(endpoint).Inc() }
func IncrAPIError(endpoint string)   { metrics.apiErrors.WithLabelValues(endpoint).Inc() }
func IncrDownload(result string)     { metrics.downloads.WithLabelValues(result).Inc() }
func IncrPublished(feed FeedKind)    { metrics.published.WithLabelValues(string(feed)).Inc() }
func IncrSkipped(reason string)      { metrics.skipped.WithLabelValues(reason).Inc() }
func IncrStatsRefresh(result string) { metrics.statsRefresh.WithLabelValues(result).Inc() }

func IncrTelegramCall(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.telegramCalls.WithLabelValues(method, result).Inc()
}

// ObserveRun records completion time and duration for an action.
func ObserveRun(action string, started time.Time) {
	metrics.lastRun.WithLabelValues(action).SetToCurrentTime()
	metrics.runDuration.WithLabelValues(action).Set(time.Since(started).Seconds())
}

// GetMetrics returns a flat snapshot: metric name plus sorted label values
// joined with "/" mapped to the sample value.
func GetMetrics() map[string]float64 {
	out := make(map[string]float64)
	families, err := metrics.registry.Gather()
	if err != nil {
		slog.Warn("metrics: gather failed", slog.Any("error", err))
		return out
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[sampleKey(mf.GetName(), m)] = sampleValue(m)
		}
	}
	return out
}

// FormatMetrics returns metrics as "name value" lines, sorted by name.
func FormatMetrics() string {
	m := GetMetrics()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %g\n", k, m[k])
	}
	return sb.String()
}

// WriteMetricsFile exports the registry in Prometheus text format.
func WriteMetricsFile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, metrics.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if elapsed := time.Since(start); elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}

func sampleKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels)+1)
	parts = append(parts, name)
	for _, l := range labels {
		parts = append(parts, l.GetValue())
	}
	return strings.Join(parts, "/")
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	}
	return 0
}
