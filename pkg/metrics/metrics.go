// Package metrics 暴露 Prometheus 指标。
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctalk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doctalk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	ChatStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctalk_chat_streams_total",
			Help: "Total chat streams by outcome",
		},
		[]string{"outcome"},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctalk_retrieval_results_count",
			Help:    "Number of fragments returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doctalk_embedding_cache_hits_total",
			Help: "Total embedding cache hits",
		},
	)

	EmbeddingCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doctalk_embedding_cache_misses_total",
			Help: "Total embedding cache misses",
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctalk_documents_ingested_total",
			Help: "Total documents ingested by final status",
		},
		[]string{"status"},
	)
)

// Init 注册全部指标，进程启动时调用一次。
func Init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ChatStreamsTotal)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(EmbeddingCacheHits)
	prometheus.MustRegister(EmbeddingCacheMisses)
	prometheus.MustRegister(DocumentsIngested)
}

// Handler 返回 /metrics 端点的 gin 处理函数。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
