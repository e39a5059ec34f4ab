package middleware

import "github.com/gin-gonic/gin"

// cspAPI forbids loading anything from collector responses; they are JSON only.
const cspAPI = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets security related HTTP response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", cspAPI)
		c.Header("Cache-Control", "no-store")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
