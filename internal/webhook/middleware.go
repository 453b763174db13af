package webhook

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shineum/mail-relay-webhook/internal/logging"
)

const requestIDKey = "request_id"

// newRequestID returns a short id for correlating log lines.
func newRequestID() string {
	return uuid.NewString()[:8]
}

// requestContext assigns a request id, stores a request-scoped logger in
// the request context and logs the completed request.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := newRequestID()

		ctx := logging.WithRequestID(c.Request.Context(), id)
		log := logging.FromContext(ctx)
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		log.Debug("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote_addr", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}

// requireToken rejects webhook requests without a valid shared token.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.Verify(c.GetHeader(TokenHeader)); err != nil {
			logging.FromContext(c.Request.Context()).Warn("webhook token rejected",
				"remote_addr", c.ClientIP(),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":   false,
				"error":     "Unauthorized",
				"requestId": c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}
