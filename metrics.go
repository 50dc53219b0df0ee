package loner

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// admission check results
const (
	resultDuplicate = "duplicate"
	resultAdmitted  = "admitted"
	resultNotUnique = "not_unique"
)

// lock release modes
const (
	releaseDeleted  = "deleted"
	releaseCooldown = "cooldown"
	releaseRetained = "retained"
)

// Collector records lock protocol activity as Prometheus metrics.
// A nil *Collector records nothing.
type Collector struct {
	admissionChecks  *prometheus.CounterVec
	locksAcquired    prometheus.Counter
	locksReleased    *prometheus.CounterVec
	locksSwept       prometheus.Counter
	matchingReleased prometheus.Counter
	malformedEntries prometheus.Counter
	gatherer         prometheus.Gatherer
}

// NewCollector creates the collector and registers its metrics on reg.
// A nil reg uses a fresh private registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		admissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loner_admission_checks_total",
			Help: "Total number of duplicate checks by result",
		}, []string{"result"}),
		locksAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loner_locks_acquired_total",
			Help: "Total number of locks marked as queued",
		}),
		locksReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loner_locks_released_total",
			Help: "Total number of locks released after execution by mode",
		}, []string{"mode"}),
		locksSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loner_locks_swept_total",
			Help: "Total number of locks deleted by queue cleanup",
		}),
		matchingReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loner_matching_released_total",
			Help: "Total number of queue entries released by signature match",
		}),
		malformedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loner_malformed_entries_total",
			Help: "Total number of undecodable queue entries skipped",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.admissionChecks,
		c.locksAcquired,
		c.locksReleased,
		c.locksSwept,
		c.matchingReleased,
		c.malformedEntries,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) recordCheck(result string) {
	if c == nil {
		return
	}
	c.admissionChecks.WithLabelValues(result).Inc()
}

func (c *Collector) recordAcquired() {
	if c == nil {
		return
	}
	c.locksAcquired.Inc()
}

func (c *Collector) recordReleased(mode string) {
	if c == nil {
		return
	}
	c.locksReleased.WithLabelValues(mode).Inc()
}

func (c *Collector) recordSwept(n int) {
	if c == nil {
		return
	}
	c.locksSwept.Add(float64(n))
}

func (c *Collector) recordMatchingReleased() {
	if c == nil {
		return
	}
	c.matchingReleased.Inc()
}

func (c *Collector) recordMalformed() {
	if c == nil {
		return
	}
	c.malformedEntries.Inc()
}
