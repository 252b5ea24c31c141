// Package metrics exposes the subsystem's counters to Prometheus without
// adding a write path: collectors read the existing stats and status
// snapshots at scrape time. Registering them is optional; nothing in the
// subsystem depends on a registry being present.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	resilience "github.com/noteflow/go-resilience"
	"github.com/noteflow/go-resilience/cache"
)

// StampedeCollector reads a Protector's stats at scrape time.
type StampedeCollector struct {
	protector *cache.Protector

	hits           *prometheus.Desc
	misses         *prometheus.Desc
	fetches        *prometheus.Desc
	lockWaits      *prometheus.Desc
	staleServes    *prometheus.Desc
	earlyRefreshes *prometheus.Desc
	trackedLocks   *prometheus.Desc
}

// ForStampede creates a collector over protector. namespace scopes the metric
// names, e.g. "noteflow".
func ForStampede(namespace string, protector *cache.Protector) *StampedeCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache_stampede", name), help, nil, nil)
	}
	return &StampedeCollector{
		protector:      protector,
		hits:           desc("hits_total", "Values served from the cache."),
		misses:         desc("misses_total", "Definitive misses reported to callers."),
		fetches:        desc("fetches_total", "Fetcher invocations."),
		lockWaits:      desc("lock_waits_total", "Calls that waited on another instance's fetch."),
		staleServes:    desc("stale_serves_total", "Previous values served after a failed or concurrent refresh."),
		earlyRefreshes: desc("early_refreshes_total", "Refreshes completed before TTL expiry."),
		trackedLocks:   desc("tracked_locks", "Local per-key locks currently tracked."),
	}
}

// Describe implements prometheus.Collector.
func (c *StampedeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.fetches
	ch <- c.lockWaits
	ch <- c.staleServes
	ch <- c.earlyRefreshes
	ch <- c.trackedLocks
}

// Collect implements prometheus.Collector.
func (c *StampedeCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.protector.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.fetches, prometheus.CounterValue, float64(stats.Fetches))
	ch <- prometheus.MustNewConstMetric(c.lockWaits, prometheus.CounterValue, float64(stats.LockWaits))
	ch <- prometheus.MustNewConstMetric(c.staleServes, prometheus.CounterValue, float64(stats.StaleServes))
	ch <- prometheus.MustNewConstMetric(c.earlyRefreshes, prometheus.CounterValue, float64(stats.EarlyRefreshes))
	ch <- prometheus.MustNewConstMetric(c.trackedLocks, prometheus.GaugeValue, float64(c.protector.LockCount()))
}

// BreakerCollector reads circuit breaker status snapshots at scrape time.
// Status reads never transition a breaker, so scraping cannot perturb circuit
// decisions.
type BreakerCollector struct {
	breakers []*resilience.CircuitBreaker

	state     *prometheus.Desc
	failures  *prometheus.Desc
	successes *prometheus.Desc
	probes    *prometheus.Desc
}

// ForBreakers creates a collector over the given breakers, labeled by breaker
// name.
func ForBreakers(namespace string, breakers ...*resilience.CircuitBreaker) *BreakerCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit_breaker", name), help,
			[]string{"breaker"}, nil)
	}
	return &BreakerCollector{
		breakers:  breakers,
		state:     desc("state", "Breaker state (0 closed, 1 half-open, 2 open)."),
		failures:  desc("failures", "Failures counted in the current period."),
		successes: desc("successes", "Successes counted in the current period."),
		probes:    desc("probes", "Probe calls in flight while half-open."),
	}
}

// Describe implements prometheus.Collector.
func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.failures
	ch <- c.successes
	ch <- c.probes
}

// Collect implements prometheus.Collector.
func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, breaker := range c.breakers {
		status := breaker.Status()
		name := breaker.Name()
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(status.State), name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(status.FailureCount), name)
		ch <- prometheus.MustNewConstMetric(c.successes, prometheus.GaugeValue, float64(status.SuccessCount), name)
		ch <- prometheus.MustNewConstMetric(c.probes, prometheus.GaugeValue, float64(status.HalfOpenProbes), name)
	}
}
