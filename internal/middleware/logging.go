// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"time"

	"secure-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，记录请求的方法、路径、状态码和耗时。
// 请求体与响应体可能包含文档原文或检索结果，因此不记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"responseSize", c.Writer.Size(),
		)
	}
}
