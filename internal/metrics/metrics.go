package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tokenscope"

var (
	// RPCRequests counts chain RPC calls by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Chain RPC requests by method and outcome",
	}, []string{"method", "outcome"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Retried chain RPC calls by operation",
	}, []string{"op"})

	ChunkHalvings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "chunk_halvings_total",
		Help:      "Log range requests that were split after a range or rate limit error",
	})

	SyncGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backfill",
		Name:      "gaps_total",
		Help:      "Block ranges or timestamps that could not be fetched",
	}, []string{"kind"})

	StoreEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "events",
		Help:      "Events currently held by the event store",
	})

	LiveEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "live",
		Name:      "events_total",
		Help:      "Live events by source and result",
	}, []string{"source", "result"})

	ReorgRetractions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "live",
		Name:      "reorg_retractions_total",
		Help:      "Events removed because their block left the canonical chain",
	})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "views",
		Name:      "recompute_duration_seconds",
		Help:      "Time spent recomputing derived views",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	RejectedSupplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "views",
		Name:      "rejected_supplies_total",
		Help:      "Events whose supply could not be added to a creator total",
	})

	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "wallet",
		Name:      "connect_total",
		Help:      "Wallet connect attempts by outcome",
	}, []string{"outcome"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "websocket_clients",
		Help:      "Connected WebSocket clients",
	})
)
