package middlewares

import (
	"net/http"
	"strings"

	"github.com/agrinova/fieldops-backend/appctx"
	"github.com/agrinova/fieldops-backend/utils"
	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware guards staff endpoints (conflict review, reports, ops
// tooling) with a signed JWT instead of a device registration token.
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Request.Header.Get("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == "" || raw == header {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		token, err := utils.JwtValidate(raw)
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyUserId, claims.ID)
		ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
