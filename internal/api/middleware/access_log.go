// Package middleware provides HTTP middleware for the LLM Gate API
// server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AccessLog logs one line per handled request: method, path, status, and
// latency. Streaming responses log after the stream ends, so the latency
// covers the whole generation.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := log.WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Millisecond).String(),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Errorf("%s %s: %s", c.Request.Method, path, c.Errors.String())
			return
		}
		entry.Debugf("%s %s", c.Request.Method, path)
	}
}
