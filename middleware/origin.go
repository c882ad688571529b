package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AllowOrigin reports whether origin may talk to the hub. An empty allowed
// value accepts every origin; requests without an Origin header (non-browser
// clients) are always accepted.
func AllowOrigin(allowed, origin string) bool {
	if allowed == "" || origin == "" {
		return true
	}
	return strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/"))
}

// CheckOrigin adapts AllowOrigin for websocket.Upgrader.
func CheckOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return AllowOrigin(allowed, r.Header.Get("Origin"))
	}
}

// Origin answers CORS for the configured client and rejects foreign browser origins.
func Origin(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !AllowOrigin(allowed, origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
