package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"doctalk-go/pkg/metrics"
)

// Metrics 按路由模板记录请求计数与耗时，未匹配的路径统一归并，避免标签爆炸。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
