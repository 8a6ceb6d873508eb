package middlewares

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"github.com/fixtrack/notifier/internal/api/respond"
)

// CORSMiddleware allows the admin frontend to call the API from another origin.
func CORSMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// TriggerAuth guards the manual scheduler trigger. The secret is accepted as
// a bearer Authorization header or a token query parameter; cron callers often
// cannot set headers.
func TriggerAuth(token string) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		got := c.Request.URL.Query().Get("token")

		if header := c.Request.Header.Get("Authorization"); header != "" {
			got = strings.TrimPrefix(header, "Bearer ")
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			respond.Fail(c.Writer, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			c.Abort()
			return
		}

		c.Next()
	}
}
