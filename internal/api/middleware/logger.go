package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/embedr/internal/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// quietPaths are polled by probes and scrapers and only logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// LoggerMiddleware attaches a request-scoped logger to the request context and logs completion.
// An inbound X-Request-ID is kept so a caller can follow its batch through the logs.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := log.WithContext(c.Request.Context())
		ctx = logger.SetComponent(logger.SetRequestID(ctx, requestID), "api")
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		entry := logger.With(nil).
			WithStatus(c.Writer.Status()).
			WithDuration(start).
			WithField(logger.FieldSize, c.Writer.Size())
		if batchID := c.GetString(ContextBatchID); batchID != "" {
			entry = entry.WithField(logger.FieldBatchID, batchID)
		}

		path := c.Request.URL.Path
		if quietPaths[path] {
			entry.Debug(ctx, "%s %s", c.Request.Method, path)
			return
		}
		entry.Info(ctx, "%s %s client_ip=%s", c.Request.Method, c.Request.URL.RequestURI(), c.ClientIP())
	}
}

// ContextBatchID is the gin key under which handlers publish the batch a request touched.
const ContextBatchID = "batch_id"
