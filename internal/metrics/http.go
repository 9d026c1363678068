package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by operation and status code",
}, []string{"operation", "status"})

// IncHTTPRequest counts one completed API request.
func IncHTTPRequest(operation, status string) {
	httpRequests.WithLabelValues(operation, status).Inc()
}
