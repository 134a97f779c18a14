package middleware

import (
	"crypto/subtle"
	"net/http"

	"dispatchly/internal/common"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// Auth returns middleware gating the producer API behind an X-API-Key header.
// Callers are other services (LMS, event consumers), so this is shared-key
// service-to-service auth, not end-user auth. A deployment with no keys
// configured rejects everything rather than running open.
func Auth(validKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(apiKeyHeader)
		if apiKey == "" {
			common.Error(c, http.StatusUnauthorized, "missing X-API-Key header")
			c.Abort()
			return
		}

		if !keyMatches(apiKey, validKeys) {
			common.Error(c, http.StatusUnauthorized, "invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}

// keyMatches compares in constant time so key probing leaks no timing signal.
func keyMatches(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
