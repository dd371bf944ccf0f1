package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientKey is the gin context key holding the authenticated client id.
const ClientKey = "clientID"

// Middleware rejects requests without a valid Bearer access token.
func Middleware(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid header format"})
			return
		}

		claims, err := issuer.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ClientKey, claims.ClientID)
		c.Next()
	}
}
