package middleware

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// AnalyticsCORS opens the ingestion endpoint to any origin. The tracking
// script runs on every page, including subdomain-branded ones, so the
// endpoint must accept cross-origin POSTs. Preflight requests get an empty
// 200.
func AnalyticsCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// AdminCORS restricts the admin API to the dashboard origin. Credentials are
// allowed because auth rides on a cookie.
func AdminCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := "http://localhost:3000"
		if os.Getenv("ADMIN_ORIGIN") != "" {
			origin = os.Getenv("ADMIN_ORIGIN")
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
