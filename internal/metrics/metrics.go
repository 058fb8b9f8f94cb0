package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbchat_query_duration_seconds",
			Help:    "Backend query duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_query_total",
			Help: "Total number of knowledge base queries",
		},
		[]string{"model", "status"},
	)

	CitationsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_citations_count",
			Help:    "Number of citations per answer",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	NormalizationMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_normalization_miss_total",
			Help: "Replies where a field could not be found",
		},
		[]string{"field"},
	)

	DocumentOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_document_ops_total",
			Help: "Document lifecycle operations",
		},
		[]string{"op", "status"},
	)

	IngestionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_ingestion_jobs_total",
			Help: "Ingestion jobs requested after document changes",
		},
		[]string{"status"},
	)

	AuditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_audit_writes_total",
			Help: "Audit store writes",
		},
		[]string{"op", "status"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_cache_lookups_total",
			Help: "Data source cache lookups",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			CitationsCount,
			NormalizationMisses,
			DocumentOps,
			IngestionJobs,
			AuditWrites,
			CacheLookups,
		)
	})
}

func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
