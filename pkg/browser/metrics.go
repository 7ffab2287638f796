package browser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHandlesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warelay",
		Name:      "browser_handles_live",
		Help:      "Number of live browser process handles.",
	})
	metricHandlesLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warelay",
		Name:      "browser_handles_launched_total",
		Help:      "Browser processes launched.",
	})
	metricHandlesTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warelay",
		Name:      "browser_handles_terminated_total",
		Help:      "Browser processes terminated.",
	})
	metricLaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warelay",
		Name:      "browser_launch_failures_total",
		Help:      "Failed browser process launches.",
	})
	// MetricDriverErrors counts browser processes that became
	// unreachable mid-use. Incremented by the bridge when it disposes a
	// handle.
	MetricDriverErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warelay",
		Name:      "browser_driver_errors_total",
		Help:      "Driver crashes detected while a handle was in use.",
	})
)
