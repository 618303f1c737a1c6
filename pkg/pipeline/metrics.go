package pipeline

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
)

var (
	// Provisioning an instance can take several minutes.
	stepDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Duration of each deployment step, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{fluxmetrics.LabelStep, fluxmetrics.LabelSuccess})
)
