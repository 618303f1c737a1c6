package git

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
)

var (
	gitDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "git",
		Name:      "operation_duration_seconds",
		Help:      "Duration of git operations on the working copy, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelOperation, fluxmetrics.LabelSuccess})
)
