package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/liquigate/internal/config"
)

const HeaderAPIKey = "X-Api-Key"

// AuthMiddleware guards the ops API, including the contribution ingest
// endpoint, with a single deployment API key.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RequireAPIKey {
			c.Next()
			return
		}
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
