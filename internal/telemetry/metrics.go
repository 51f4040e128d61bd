package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Supervisor-side restart accounting. Agent processes report their own cycle
// metrics over OTLP; the supervisor only sees process exits, so these live in
// its prometheus registry.
var (
	AgentRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cycled",
		Name:      "agent_restarts_total",
		Help:      "Restart-requested exits per agent, as observed by the supervisor.",
	}, []string{"agent"})

	AgentExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cycled",
		Name:      "agent_exits_total",
		Help:      "Process exits per agent and outcome (terminal, restart, error).",
	}, []string{"agent", "outcome"})

	RestartThrottleSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cycled",
		Name:      "restart_throttle_seconds_total",
		Help:      "Seconds spent waiting on the restart rate limiter.",
	})
)

// MetricsHandler serves the prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
