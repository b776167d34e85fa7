package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"relaychat.com/pkg/common"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/metrics"
	"relaychat.com/pkg/ratelimit"
	"relaychat.com/pkg/xerr"
)

// RateLimit throttles per client ip and route. A nil store lets everything
// through.
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			metrics.RateLimitBlockTotal.WithLabelValues("http").Inc()
			// expected under load; no stack
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, xerr.RateLimited, xerr.RateLimited, xerr.MapErrMsg(xerr.RateLimited))
			c.Abort()
			return
		}
		c.Next()
	}
}
