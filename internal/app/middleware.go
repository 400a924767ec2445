package app

import (
	"net/http"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/api"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/metric"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	requestIDHeader       = "X-Request-ID"
	idempotencyHeaderName = "X-Idempotency-Key"
)

// requestID echoes the caller's X-Request-ID or mints one, and stores it on
// the request context for error logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(api.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog records request metrics against the route template so that node
// names do not explode tag cardinality.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metric.ObserveAPIRequest(path, c.Request.Method, status, latency)
		log.Info().Msgf("[access] [%s] %s %s %d %v", c.ClientIP(), c.Request.Method, c.Request.URL.Path, status, latency)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("request_id", api.RequestIDFromContext(c.Request.Context())).
			Str("path", c.Request.URL.Path).
			Msg("recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error", Kind: "Internal"})
	})
}
