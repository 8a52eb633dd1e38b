package deployment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	packageTypeFull = "full"
	packageTypeFix  = "fix"

	resultSuccess = "success"
	resultFailure = "failure"
	resultClosed  = "closed"
)

var (
	streamCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deploypkg",
		Subsystem: "stream",
		Name:      "total",
		Help:      "Deployment package streams by package type and result.",
	}, []string{"package_type", "result"})
	streamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deploypkg",
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Archive bytes handed to consumers.",
	}, []string{"package_type"})
	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deploypkg",
		Subsystem: "stream",
		Name:      "duration_seconds",
		Help:      "Time from stream open to its end.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"package_type", "result"})
	poolCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deploypkg",
		Subsystem: "encoder_pool",
		Name:      "get_total",
		Help:      "Encoder pool requests by outcome.",
	}, []string{"outcome"})
)
