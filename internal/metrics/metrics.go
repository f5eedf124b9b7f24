package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineCounters holds cumulative flow engine activity.
type EngineCounters struct {
	EventsHandled    uint64
	Playbacks        uint64
	PlaybackFailures uint64
	SynthFailures    uint64
	InvalidDigits    uint64
}

// EngineProvider exposes flow engine state for scraping.
type EngineProvider interface {
	GetActiveCallCount() int
	GetCounters() EngineCounters
}

// CacheCounts holds asset cache state: entry counts by status plus synthesis
// totals.
type CacheCounts struct {
	Ready     int
	Pending   int
	Failed    int
	Syntheses uint64
	Failures  uint64
}

// CacheProvider exposes asset cache state for scraping.
type CacheProvider interface {
	GetCacheCounts() CacheCounts
}

// Collector is a prometheus.Collector that gathers voxflow metrics at scrape
// time.
type Collector struct {
	engine    EngineProvider
	cache     CacheProvider
	startTime time.Time

	// Metric descriptors.
	activeCallsDesc      *prometheus.Desc
	cacheEntriesDesc     *prometheus.Desc
	eventsDesc           *prometheus.Desc
	playbacksDesc        *prometheus.Desc
	playbackFailuresDesc *prometheus.Desc
	synthesesDesc        *prometheus.Desc
	synthFailuresDesc    *prometheus.Desc
	promptFailuresDesc   *prometheus.Desc
	invalidDigitsDesc    *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil if
// unavailable.
func NewCollector(engine EngineProvider, cache CacheProvider, startTime time.Time) *Collector {
	return &Collector{
		engine:    engine,
		cache:     cache,
		startTime: startTime,

		activeCallsDesc: prometheus.NewDesc(
			"voxflow_active_calls",
			"Number of calls currently tracked in the state table",
			nil, nil,
		),
		cacheEntriesDesc: prometheus.NewDesc(
			"voxflow_cache_entries",
			"Speech asset cache entries by status",
			[]string{"status"}, nil,
		),
		eventsDesc: prometheus.NewDesc(
			"voxflow_events_total",
			"Total telephony events handled by the flow engine",
			nil, nil,
		),
		playbacksDesc: prometheus.NewDesc(
			"voxflow_playbacks_total",
			"Total playback commands issued successfully",
			nil, nil,
		),
		playbackFailuresDesc: prometheus.NewDesc(
			"voxflow_playback_failures_total",
			"Total playback commands rejected or failed",
			nil, nil,
		),
		synthesesDesc: prometheus.NewDesc(
			"voxflow_syntheses_total",
			"Total speech synthesis pipeline invocations (one per distinct fingerprint)",
			nil, nil,
		),
		synthFailuresDesc: prometheus.NewDesc(
			"voxflow_synthesis_failures_total",
			"Total failed speech synthesis pipeline invocations",
			nil, nil,
		),
		promptFailuresDesc: prometheus.NewDesc(
			"voxflow_prompt_failures_total",
			"Total prompts the engine could not materialize (callers heard silence)",
			nil, nil,
		),
		invalidDigitsDesc: prometheus.NewDesc(
			"voxflow_invalid_digits_total",
			"Total digit events with no matching flow transition",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxflow_uptime_seconds",
			"Seconds since the voxflow process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.cacheEntriesDesc
	ch <- c.eventsDesc
	ch <- c.playbacksDesc
	ch <- c.playbackFailuresDesc
	ch <- c.synthesesDesc
	ch <- c.synthFailuresDesc
	ch <- c.promptFailuresDesc
	ch <- c.invalidDigitsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.engine != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.engine.GetActiveCallCount()),
		)

		counters := c.engine.GetCounters()
		ch <- prometheus.MustNewConstMetric(
			c.eventsDesc, prometheus.CounterValue, float64(counters.EventsHandled),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbacksDesc, prometheus.CounterValue, float64(counters.Playbacks),
		)
		ch <- prometheus.MustNewConstMetric(
			c.playbackFailuresDesc, prometheus.CounterValue, float64(counters.PlaybackFailures),
		)
		ch <- prometheus.MustNewConstMetric(
			c.promptFailuresDesc, prometheus.CounterValue, float64(counters.SynthFailures),
		)
		ch <- prometheus.MustNewConstMetric(
			c.invalidDigitsDesc, prometheus.CounterValue, float64(counters.InvalidDigits),
		)
	}

	if c.cache != nil {
		counts := c.cache.GetCacheCounts()
		for status, n := range map[string]int{
			"ready":   counts.Ready,
			"pending": counts.Pending,
			"failed":  counts.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(
				c.cacheEntriesDesc, prometheus.GaugeValue, float64(n), status,
			)
		}
		ch <- prometheus.MustNewConstMetric(
			c.synthesesDesc, prometheus.CounterValue, float64(counts.Syntheses),
		)
		ch <- prometheus.MustNewConstMetric(
			c.synthFailuresDesc, prometheus.CounterValue, float64(counts.Failures),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
