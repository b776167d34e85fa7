package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"relaychat.com/pkg/common"
	"relaychat.com/pkg/logger"
	"relaychat.com/pkg/xerr"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "http panic",
					zap.String("request_id", common.RequestIDFromGin(c)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				if !c.Writer.Written() {
					common.Fail(c, xerr.ServerCommonError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
