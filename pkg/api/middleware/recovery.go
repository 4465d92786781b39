package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/stevelan1995/hrflow/pkg/api/dto"
)

// Recovery panic恢复中间件，日志带上请求和租户信息便于定位
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				tenant := c.GetHeader("X-Tenant-ID")
				if tenant == "" {
					tenant = "-"
				}
				log.Printf("❌ [Recovery] panic recovered: %v (tenant=%s %s %s)\n%s",
					err, tenant, c.Request.Method, c.Request.URL.Path, debug.Stack())

				// 响应已写出一半时无法再补错误体
				if !c.Writer.Written() {
					c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(
						http.StatusInternalServerError,
						"Internal Server Error",
					))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
