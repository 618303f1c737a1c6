package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
)

var (
	// A check that finds nothing to do is a git fetch and a DNS
	// query; one that deploys includes the whole pipeline.
	checkDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "daemon",
		Name:      "check_duration_seconds",
		Help:      "Duration of check cycles, including any deployment, in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{fluxmetrics.LabelSuccess})

	deploymentDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "daemon",
		Name:      "deployment_duration_seconds",
		Help:      "Duration of deployments, in seconds.",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900, 1200, 1800},
	}, []string{fluxmetrics.LabelSuccess})

	checksSkipped = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "watchdog",
		Subsystem: "daemon",
		Name:      "checks_skipped_total",
		Help:      "Count of requests for a check that were ignored, because a check was already under way.",
	}, []string{})
)
