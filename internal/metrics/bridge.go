package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bridgeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "nats",
	Name:      "bridged_total",
	Help:      "Hub messages forwarded to NATS by channel and result",
}, []string{"channel", "result"})

// Bridge results.
const (
	BridgeSent     = "sent"
	BridgeEncode   = "encode_error"
	BridgeNoServer = "not_connected"
	BridgeFailed   = "publish_error"
)

// IncBridged counts one message handled by the NATS bridge.
func IncBridged(channel, result string) {
	bridgeTotal.WithLabelValues(channel, result).Inc()
}
