package middleware

import "github.com/gin-gonic/gin"

// NoStore marks responses as uncacheable. Exam content and answer state must
// never be kept by shared proxies or the browser cache of a lab machine.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
