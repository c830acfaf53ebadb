package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medevac",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published, by outcome.",
	}, []string{"outcome"})

	relayReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medevac",
		Subsystem: "events",
		Name:      "relay_received_total",
		Help:      "Events received from the cross-instance relay.",
	})

	changeFeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medevac",
		Subsystem: "events",
		Name:      "changefeed_reconnects_total",
		Help:      "Times the database change feed listener reconnected.",
	})
)
