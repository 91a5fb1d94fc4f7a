package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinHandler adapts the auth middleware to a gin.HandlerFunc for callers
// embedding the server in a gin application.
func (m *AuthMiddleware) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.auth.IsActive() || m.auth.ShouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		result := m.auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if !result.Authenticated {
			status := result.StatusCode
			if status == 0 {
				status = http.StatusUnauthorized
			}
			c.Header("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", m.realm))
			c.AbortWithStatusJSON(status, gin.H{
				"error":   "authentication_failed",
				"message": result.Error,
			})
			return
		}

		identity := Identity{
			ID:       result.UserID,
			Username: result.Username,
			Email:    result.Email,
			Groups:   result.Groups,
			Scopes:   result.Scopes,
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}
