package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals generated"},
		[]string{"symbol", "side", "strategy"},
	)
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "executions_total", Help: "Trade requests resolved by a backend"},
		[]string{"mode", "executed"},
	)
	BackendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "backend_failures_total", Help: "Backend attempts that fell through"},
		[]string{"mode"},
	)
	CandleFetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "candle_fetch_failures_total", Help: "Market data fetches replaced by simulated series"},
		[]string{"provider"},
	)
	ClassifierTrainingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_training_seconds",
			Help:    "Wall-clock time spent fitting the classifier",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsTotal,
		ExecutionsTotal,
		BackendFailuresTotal,
		CandleFetchFailuresTotal,
		ClassifierTrainingSeconds,
	)
}

func ObserveTraining(d time.Duration) {
	ClassifierTrainingSeconds.Observe(d.Seconds())
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
