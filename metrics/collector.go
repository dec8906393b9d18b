// Package metrics exports the stats of a threadpool.Pool as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/damnever/threadpool"
)

// StatsSource is implemented by *threadpool.Pool.
type StatsSource interface {
	Stats() threadpool.Stats
}

// Collector is a prometheus.Collector reading the stats of a pool on every scrape.
type Collector struct {
	source StatsSource

	workers   *prometheus.Desc
	state     *prometheus.Desc
	queued    *prometheus.Desc
	submitted *prometheus.Desc
	completed *prometheus.Desc
	panicked  *prometheus.Desc
}

// NewCollector creates a Collector, name is attached as the "pool" label
// so that multiple pools can be registered into one registry.
func NewCollector(namespace, name string, source StatsSource) *Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string, variableLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "threadpool", metric),
			help, variableLabels, labels,
		)
	}

	return &Collector{
		source:    source,
		workers:   desc("workers", "Fixed number of workers in the pool."),
		state:     desc("workers_by_state", "Current number of workers in each state.", "state"),
		queued:    desc("queued_funcs", "Current number of funcs waiting for a worker."),
		submitted: desc("submitted_funcs_total", "Total number of funcs submitted to the pool."),
		completed: desc("completed_funcs_total", "Total number of funcs which returned normally."),
		panicked:  desc("panicked_funcs_total", "Total number of funcs which panicked."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.state
	ch <- c.queued
	ch <- c.submitted
	ch <- c.completed
	ch <- c.panicked
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(stats.Workers))
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
		float64(stats.WaitingWorkers), threadpool.WorkerWaiting.String())
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
		float64(stats.ExecutingWorkers), threadpool.WorkerExecuting.String())
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
		float64(stats.StoppedWorkers), threadpool.WorkerStopped.String())
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(stats.Queued))
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(stats.Submitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(stats.Completed))
	ch <- prometheus.MustNewConstMetric(c.panicked, prometheus.CounterValue, float64(stats.Panicked))
}
