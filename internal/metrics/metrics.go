// Package metrics exposes Prometheus metrics for verification, role
// reconciliation, NationStates requests and command handling.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface used by services and handlers.
type Recorder interface {
	VerificationStarted()
	VerificationConfirmed()
	VerificationFailed(reason string)
	VerificationExpired()
	SetPending(n int)
	RoleGranted(guildID string)
	RoleRevoked(guildID string)
	ObserveRequest(shard string, statusCode int, latency time.Duration)
	CommandHandled(command, outcome string)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	verifications *prometheus.CounterVec
	pending       prometheus.Gauge
	roleChanges   *prometheus.CounterVec
	nsRequests    *prometheus.CounterVec
	nsLatency     prometheus.Histogram
	commands      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Nation verification handshakes by outcome.",
		}, []string{"outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verifications_pending",
			Help:      "Verification handshakes waiting for a code.",
		}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_changes_total",
			Help:      "Role grants and revocations by guild.",
		}, []string{"guild_id", "change"}),
		nsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nationstates_requests_total",
			Help:      "NationStates API requests by shard and status code.",
		}, []string{"shard", "status_code"}),
		nsLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nationstates_request_seconds",
			Help:      "NationStates API latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Slash commands handled by command and outcome.",
		}, []string{"command", "outcome"}),
	}

	reg.MustRegister(
		c.verifications,
		c.pending,
		c.roleChanges,
		c.nsRequests,
		c.nsLatency,
		c.commands,
	)
	return c
}

func (c *Collector) VerificationStarted() {
	c.verifications.WithLabelValues("started").Inc()
}

func (c *Collector) VerificationConfirmed() {
	c.verifications.WithLabelValues("confirmed").Inc()
}

func (c *Collector) VerificationFailed(reason string) {
	c.verifications.WithLabelValues(reason).Inc()
}

func (c *Collector) VerificationExpired() {
	c.verifications.WithLabelValues("expired").Inc()
}

func (c *Collector) SetPending(n int) {
	c.pending.Set(float64(n))
}

func (c *Collector) RoleGranted(guildID string) {
	c.roleChanges.WithLabelValues(guildID, "grant").Inc()
}

func (c *Collector) RoleRevoked(guildID string) {
	c.roleChanges.WithLabelValues(guildID, "revoke").Inc()
}

// ObserveRequest also satisfies nationstates.Observer. A zero status code
// marks a transport failure.
func (c *Collector) ObserveRequest(shard string, statusCode int, latency time.Duration) {
	code := "error"
	if statusCode != 0 {
		code = strconv.Itoa(statusCode)
	}
	c.nsRequests.WithLabelValues(shard, code).Inc()
	c.nsLatency.Observe(latency.Seconds())
}

func (c *Collector) CommandHandled(command, outcome string) {
	c.commands.WithLabelValues(command, outcome).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) VerificationStarted()                      {}
func (Nop) VerificationConfirmed()                    {}
func (Nop) VerificationFailed(string)                 {}
func (Nop) VerificationExpired()                      {}
func (Nop) SetPending(int)                            {}
func (Nop) RoleGranted(string)                        {}
func (Nop) RoleRevoked(string)                        {}
func (Nop) ObserveRequest(string, int, time.Duration) {}
func (Nop) CommandHandled(string, string)             {}
