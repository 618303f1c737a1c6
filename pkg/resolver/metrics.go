package resolver

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
)

var (
	// Most of this is the DNS round trip to the authority, which
	// times out at four seconds by default.
	resolveDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "watchdog",
		Subsystem: "resolver",
		Name:      "resolve_duration_seconds",
		Help:      "Duration of resolving the revision running on the target host, in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
	}, []string{fluxmetrics.LabelSuccess})
)
