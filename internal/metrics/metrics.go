// Package metrics holds the Prometheus collectors of go-rangeview
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangeview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rangeview_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// FetchTotal counts partitioned scans by outcome (ok, not_found, unavailable, failed).
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangeview_fetch_total",
			Help: "Total number of partitioned table scans",
		},
		[]string{"source", "outcome"},
	)
	// FetchDuration is the wall time of a full scan (aggregate + all ranges).
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rangeview_fetch_duration_seconds",
			Help:    "Partitioned scan latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	// PartitionRows counts rows returned per range index.
	PartitionRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangeview_partition_rows_total",
			Help: "Rows returned by range fetches",
		},
		[]string{"partition"},
	)
	// PartitionTruncated counts range fetches cut at the per-range cap.
	PartitionTruncated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangeview_partition_truncated_total",
			Help: "Range fetches that held more rows than the per-range cap",
		},
		[]string{"partition"},
	)
)

// ObserveFetch records the outcome and duration of one scan
func ObserveFetch(source, outcome string, started time.Time) {
	FetchTotal.WithLabelValues(source, outcome).Inc()
	FetchDuration.WithLabelValues(source).Observe(time.Since(started).Seconds())
}

// ObservePartition records the rows one range fetch returned
func ObservePartition(index, rows int, truncated bool) {
	label := strconv.Itoa(index)
	PartitionRows.WithLabelValues(label).Add(float64(rows))
	if truncated {
		PartitionTruncated.WithLabelValues(label).Inc()
	}
}

// Middleware records request count and latency. The route pattern is used as path label to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RequestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
