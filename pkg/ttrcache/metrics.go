package ttrcache

import "github.com/prometheus/client_golang/prometheus"

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)

// fetchesTotal counts Get outcomes per cache. A miss is a successful fetch.
var fetchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "ttrcache",
		Name:      "fetches_total",
		Help:      "Time-to-refresh cache lookups by cache name and result.",
	},
	[]string{"cache", "result"},
)

func init() {
	prometheus.MustRegister(fetchesTotal)
}

func observeFetch(cache, result string) {
	fetchesTotal.WithLabelValues(cache, result).Inc()
}
