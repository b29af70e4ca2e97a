package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/metrics"
	"motoreg-bot/internal/ratelimit"
)

// MetricsMiddleware collects HTTP request metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		duration := time.Since(startTime)

		metrics.RequestCounter.WithLabelValues(status, method, path).Inc()
		metrics.RequestDuration.WithLabelValues(status, method, path).Observe(duration.Seconds())

		logging.For("http").WithField("status", status).
			WithField("method", method).
			WithField("path", c.Request.URL.Path).
			WithField("duration", duration).
			Debug("request")
	}
}

// AdminMiddleware checks the X-Admin-Password header. This is a convenience
// gate, not an authentication scheme.
func AdminMiddleware(password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Password")
		if subtle.ConstantTimeCompare([]byte(got), []byte(password)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "contraseña incorrecta"})
			return
		}
		c.Next()
	}
}

// RateLimiterMiddleware throttles per client IP.
func RateLimiterMiddleware(rl *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow("ip:" + c.ClientIP()) {
			metrics.AccessCodeRejections.WithLabelValues("rate_limited").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Demasiados intentos. Intenta de nuevo más tarde.",
			})
			return
		}
		c.Next()
	}
}
