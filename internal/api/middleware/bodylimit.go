package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes bounds request bodies. Metrics documents of large
// BackupPC installations stay well below it.
const DefaultMaxBodyBytes int64 = 8 << 20

// BodyLimitMiddleware limits the size of request bodies. Reads past maxBytes
// fail, which the JSON binders report as a validation error.
func BodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
