package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of committed orders",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order placements",
	}, []string{"reason"})

	OrderPlacementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_placement_latency_seconds",
		Help:    "Latency of the order placement transaction",
		Buckets: prometheus.DefBuckets,
	})

	BooksReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "books_reserved_total",
		Help: "Total number of book copies taken from stock by committed orders",
	})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_changes_total",
		Help: "Total number of admin status changes",
	}, []string{"field", "status"})

	NotificationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_attempts_total",
		Help: "Total number of order confirmation send attempts",
	}, []string{"provider", "result"})

	NotificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_latency_seconds",
		Help:    "Latency of order confirmation sends",
		Buckets: prometheus.DefBuckets,
	})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Total number of outbox events handed to the event transport",
	})

	OutboxPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_publish_failed_total",
		Help: "Total number of failed outbox publish attempts",
	})

	EventsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "events_duplicate_total",
		Help: "Total number of redelivered events skipped by the consumer",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
