// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the runtime's Prometheus instruments. A nil *Collector
// is valid and records nothing, so components never need to check whether
// metrics are enabled.
type Collector struct {
	agentsSpawned prometheus.Counter
	agentsStopped prometheus.Counter
	agentsActive  prometheus.Gauge

	messagesRouted *prometheus.CounterVec

	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	rateLimitHits    *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec

	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec

	tasksDelegated *prometheus.CounterVec
}

// NewCollector registers the runtime's instruments on reg. Pass
// prometheus.DefaultRegisterer for normal use or a fresh registry in tests.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{}

	c.agentsSpawned = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agents_spawned_total",
		Help:      "Total number of agents spawned",
	})

	c.agentsStopped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agents_stopped_total",
		Help:      "Total number of agents stopped",
	})

	c.agentsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agents_active",
		Help:      "Number of currently running agents",
	})

	c.messagesRouted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages routed by the kernel, by outcome",
		},
		[]string{"outcome"},
	)

	c.providerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	c.providerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	c.providerTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Estimated input tokens consumed, by provider",
		},
		[]string{"provider"},
	)

	c.rateLimitHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limit_hits_total",
			Help:      "Requests deferred or rejected by rate limiting",
		},
		[]string{"provider"},
	)

	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_queue_depth",
			Help:      "Requests waiting in the provider rate-limit queue",
		},
		[]string{"provider"},
	)

	c.toolExecutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	c.toolDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	c.tasksDelegated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_delegated_total",
			Help:      "Delegated tasks by terminal state",
		},
		[]string{"state"},
	)

	return c
}

// AgentSpawned records one agent start.
func (c *Collector) AgentSpawned() {
	if c == nil {
		return
	}
	c.agentsSpawned.Inc()
	c.agentsActive.Inc()
}

// AgentStopped records one agent stop.
func (c *Collector) AgentStopped() {
	if c == nil {
		return
	}
	c.agentsStopped.Inc()
	c.agentsActive.Dec()
}

// MessageRouted records one kernel routing decision.
func (c *Collector) MessageRouted(outcome string) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(outcome).Inc()
}

// ProviderRequest records one finished provider request.
func (c *Collector) ProviderRequest(provider, outcome string, duration time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.providerRequests.WithLabelValues(provider, outcome).Inc()
	c.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if tokens > 0 {
		c.providerTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RateLimitHit records one rate-limit deferral or rejection.
func (c *Collector) RateLimitHit(provider string) {
	if c == nil {
		return
	}
	c.rateLimitHits.WithLabelValues(provider).Inc()
}

// QueueDepth sets the current provider queue depth.
func (c *Collector) QueueDepth(provider string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(provider).Set(float64(depth))
}

// ToolExecution records one tool call.
func (c *Collector) ToolExecution(tool, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolExecutions.WithLabelValues(tool, outcome).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// TaskDelegated records one delegated task reaching state.
func (c *Collector) TaskDelegated(state string) {
	if c == nil {
		return
	}
	c.tasksDelegated.WithLabelValues(state).Inc()
}
