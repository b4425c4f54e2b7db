package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

const claimsKey = "auth.claims"

// Middleware rejects requests without a valid bearer token and stores the
// token claims on the gin context.
func Middleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			unauthorized(c, "not authenticated")
			return
		}

		claims, err := tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			unauthorized(c, apperr.PublicMessage(err))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

// CurrentUser returns the claims stored by Middleware.
func CurrentUser(c *gin.Context) (Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := value.(Claims)
	return claims, ok
}
