// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts confirmed message persists.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syndex_messages_sent_total",
		Help: "Messages successfully persisted.",
	})

	// SendFailures counts sends whose persistence failed.
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syndex_send_failures_total",
		Help: "Message sends that failed persistence.",
	})

	// NotificationFailures counts failed email dispatch attempts.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syndex_notification_failures_total",
		Help: "Email notification dispatches that failed.",
	})

	// SessionsOpen tracks currently connected websocket sessions.
	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syndex_sessions_open",
		Help: "Currently open websocket sessions.",
	})
)
