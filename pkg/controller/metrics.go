package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	buckets = []float64{.05, .25, .5, 1, 2.5, 5, 10, 30}

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geomag",
			Name:      "run_duration_seconds",
			Help:      "Controller invocation latency by mode.",
			Buckets:   buckets,
		},
		[]string{"mode"},
	)

	Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geomag",
		Name:      "runs_total",
		Help:      "Controller invocations by mode and result.",
	}, []string{"mode", "result"})

	GapsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geomag",
		Name:      "gaps_processed_total",
		Help:      "Output gaps reprocessed by update runs.",
	})
	GapsDeferred = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geomag",
		Name:      "gaps_deferred_total",
		Help:      "Output gaps left for a later update run.",
	})
	SamplesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "geomag",
		Name:      "samples_written_total",
		Help:      "Valid output samples handed to the output source.",
	})
)

func init() {
	prometheus.DefaultRegisterer.MustRegister(
		RunDuration,
		Runs,
		GapsProcessed,
		GapsDeferred,
		SamplesWritten,
	)
}
