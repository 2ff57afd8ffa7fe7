// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MagicLinksSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "members_magic_links_sent_total",
			Help: "Total number of magic-link emails dispatched",
		},
		[]string{"intent"},
	)

	MagicLinkRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "members_magic_link_redemptions_total",
			Help: "Total number of magic-link redemption attempts",
		},
		[]string{"outcome"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "members_webhook_events_total",
			Help: "Total number of billing webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "members_webhook_duration_seconds",
			Help: "Duration of webhook event processing in seconds",
		},
		[]string{"event_type"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "members_http_request_duration_seconds",
			Help: "Duration of HTTP request handling in seconds",
		},
		[]string{"route", "status"},
	)
)
