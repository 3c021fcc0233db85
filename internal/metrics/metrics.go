package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadtime_orders_created_total",
		Help: "Total number of service orders successfully registered.",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtime_transitions_total",
		Help: "Total number of accepted workflow transitions.",
	},
		[]string{"action"},
	)

	TransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtime_transitions_rejected_total",
		Help: "Total number of workflow transitions rejected by guards or invariants.",
	},
		[]string{"action"},
	)

	RecomputedOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadtime_recomputed_orders_total",
		Help: "Total number of orders whose lead times were recomputed.",
	})

	RecomputeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadtime_recompute_errors_total",
		Help: "Total number of orders that failed during batch recompute.",
	})

	RecomputeBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadtime_recompute_batch_duration_seconds",
		Help:    "Time spent recomputing and persisting one batch of orders.",
		Buckets: prometheus.DefBuckets,
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtime_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	OrderCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadtime_order_cache_items",
		Help: "Current number of active orders held in the order cache.",
	})

	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtime_outbox_published_total",
		Help: "Outbox tasks handed to the broker, by result.",
	},
		[]string{"result"},
	)
)
